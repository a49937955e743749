// Package recognizer turns face-service matches for captured frames into
// hashed attendance submissions, once per name per session.
package recognizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chainattend/internal/attendclient"
	"chainattend/internal/faceclient"
	"chainattend/internal/integrity"
	"chainattend/internal/logger"
	"chainattend/internal/metrics"
	"chainattend/internal/queue"
	"chainattend/internal/seen"
)

// Unknown names a face with no enrolled match.
const Unknown = "Unknown"

// Searcher finds enrolled faces in an image.
type Searcher interface {
	Search(ctx context.Context, imageURL string, topK int, threshold float64) (*faceclient.SearchResult, error)
}

// Submitter delivers a payload to the attendance API.
type Submitter interface {
	Submit(ctx context.Context, p integrity.Payload) (*attendclient.Response, error)
}

// Config tunes a Recognizer.
type Config struct {
	Threshold float64 // minimum similarity for a match
	TopK      int
	Now       func() time.Time
}

// Outcome reports what happened to one detected name.
type Outcome struct {
	Name      string
	Submitted bool
	Response  *attendclient.Response
	Err       error
}

// Recognizer processes frames.
type Recognizer struct {
	search Searcher
	submit Submitter
	seen   seen.Set
	signer integrity.Signer
	cfg    Config
}

// New wires a Recognizer.
func New(search Searcher, submit Submitter, set seen.Set, signer integrity.Signer, cfg Config) *Recognizer {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recognizer{search: search, submit: submit, seen: set, signer: signer, cfg: cfg}
}

// Names resolves a search result to at most one name per detected face,
// best similarity first. Faces left without a match at or above threshold
// are reported once as Unknown.
func Names(res *faceclient.SearchResult, threshold float64) []string {
	if res == nil || res.FacesDetected <= 0 {
		return nil
	}
	matches := make([]faceclient.SearchMatch, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m.Similarity >= threshold {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	var (
		names []string
		dup   = make(map[string]bool)
	)
	for _, m := range matches {
		if len(names) == res.FacesDetected {
			break
		}
		name := m.Name
		if name == "" {
			name = m.UserID
		}
		if name == "" || dup[name] {
			continue
		}
		dup[name] = true
		names = append(names, name)
	}
	if res.FacesDetected > len(names) {
		names = append(names, Unknown)
	}
	return names
}

// ProcessFrame searches imageURL and submits every name not yet seen.
func (r *Recognizer) ProcessFrame(ctx context.Context, imageURL string) ([]Outcome, error) {
	res, err := r.search.Search(ctx, imageURL, r.cfg.TopK, r.cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("face search: %w", err)
	}

	var out []Outcome
	for _, name := range Names(res, r.cfg.Threshold) {
		added, err := r.seen.Add(ctx, name)
		if err != nil {
			out = append(out, Outcome{Name: name, Err: err})
			continue
		}
		if !added {
			continue
		}
		if name == Unknown {
			metrics.Submissions.WithLabelValues(metrics.ResultUnknown).Inc()
			logger.InfoContext(ctx, "attendance not recorded, face not registered", "image_url", imageURL)
			out = append(out, Outcome{Name: name})
			continue
		}
		out = append(out, r.submitName(ctx, name))
	}
	return out, nil
}

func (r *Recognizer) submitName(ctx context.Context, name string) Outcome {
	p, err := r.signer.Now(name, r.cfg.Now())
	if err != nil {
		return Outcome{Name: name, Err: err}
	}
	resp, err := r.submit.Submit(ctx, p)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultFailed).Inc()
		logger.ErrorContext(ctx, "attendance submission failed", "name", name, "error", err)
		return Outcome{Name: name, Err: err}
	}
	metrics.Submissions.WithLabelValues(metrics.ResultSubmitted).Inc()
	logger.InfoContext(ctx, resp.Message, "name", name, "recorded_at", resp.Timestamp)
	return Outcome{Name: name, Submitted: true, Response: resp}
}

// Run consumes frame messages until ctx ends.
func (r *Recognizer) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Type != queue.TypeFrame {
				logger.Warn("unexpected message type", "type", msg.Type)
				continue
			}
			if _, err := r.ProcessFrame(ctx, string(msg.Body)); err != nil {
				logger.ErrorContext(ctx, "frame processing failed", "image_url", string(msg.Body), "error", err)
			}
		}
	}
}
