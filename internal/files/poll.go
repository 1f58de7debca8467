package files

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// IsModified compares the marker a client last saw with the current one.
// A client that has seen nothing yet always gets true.
func IsModified(since *int64, current int64) bool {
	return since == nil || current > *since
}

// ParseMarker parses a poll request body. Blank input means the client has
// no marker yet.
func ParseMarker(body string) (*int64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	m, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("marker %q: %w", body, model.ErrInvalidMarker)
	}
	return &m, nil
}

// Poller answers change queries without sending unchanged content.
type Poller struct {
	files   *Store
	metrics metrics.Recorder
}

// NewPoller creates a Poller over files.
func NewPoller(files *Store, rec metrics.Recorder) *Poller {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Poller{files: files, metrics: rec}
}

// Poll reports whether a file changed after since. Contents are included
// only when it did.
func (p *Poller) Poll(ctx context.Context, repo, path string, since *int64) (model.PollResult, error) {
	rec, err := p.files.GetContents(ctx, repo, path)
	if err != nil {
		return model.PollResult{}, err
	}

	res := model.PollResult{
		IsModified: IsModified(since, rec.LastChange),
		LastChange: rec.LastChange,
	}
	if res.IsModified {
		content := rec.Content
		res.Contents = &content
	}
	p.metrics.RecordPoll(res.IsModified)
	return res, nil
}
