package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/cartographer/internal/pipeline"
	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func (f *fakeConn) Subscribe(string, nats.MsgHandler) (*nats.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeConn) Close() {}

func TestPublishStatus(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{conn: fc, logger: discardLogger()}
	if err := c.PublishStatus(status.Status{RunID: "r1", State: status.StateProcessing, Progress: 42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.msgs) != 1 || fc.msgs[0].subject != SubjectRunStatus {
		t.Fatalf("unexpected messages %+v", fc.msgs)
	}
	var got map[string]any
	json.Unmarshal(fc.msgs[0].data, &got)
	if got["run_id"] != "r1" || got["status"] != "processing" || got["progress"] != 42.0 {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestPublishStatus_Error(t *testing.T) {
	c := &Client{conn: &fakeConn{err: nats.ErrConnectionClosed}, logger: discardLogger()}
	if err := c.PublishStatus(status.Status{RunID: "r1"}); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("expected connection error, got %v", err)
	}
}

func TestRunCompleted(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{conn: fc, logger: discardLogger()}
	err := c.RunCompleted(context.Background(), pipeline.Summary{
		RunID:      "r2",
		SolutionID: "kmeans_4",
		Clusters:   []pipeline.ClusterSummary{{ClusterID: "cluster_0", Label: "Go", Size: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got pipeline.Summary
	json.Unmarshal(fc.msgs[0].data, &got)
	if fc.msgs[0].subject != SubjectRunCompleted || got.SolutionID != "kmeans_4" || len(got.Clusters) != 1 {
		t.Errorf("unexpected message %s %+v", fc.msgs[0].subject, got)
	}
}

func TestAnnounce(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{conn: fc, logger: discardLogger()}
	if err := c.Announce("1.2.3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	json.Unmarshal(fc.msgs[0].data, &got)
	if fc.msgs[0].subject != SubjectRegistered || got["service"] != "cartographer" || got["version"] != "1.2.3" {
		t.Errorf("unexpected announcement %s %v", fc.msgs[0].subject, got)
	}
}

type fakeStarter struct {
	got [][]byte
	err error
}

func (f *fakeStarter) Start(_ context.Context, data []byte) (status.Status, error) {
	f.got = append(f.got, data)
	return status.Status{RunID: "r3", State: status.StateProcessing}, f.err
}

func TestUploadHandler(t *testing.T) {
	s := &fakeStarter{}
	h := UploadHandler(s, discardLogger())
	h(SubjectUploadRequested, []byte(`[]`))
	h(SubjectUploadRequested, nil)
	if len(s.got) != 1 || string(s.got[0]) != "[]" {
		t.Errorf("expected one run started, got %q", s.got)
	}

	s.err = errors.New("db down")
	h(SubjectUploadRequested, []byte(`[]`))
	if len(s.got) != 2 {
		t.Errorf("expected start attempt despite error")
	}
}

func TestSubjects(t *testing.T) {
	for _, s := range []string{SubjectRunStatus, SubjectRunCompleted, SubjectUploadRequested, SubjectRegistered} {
		if len(s) < len("cartographer.") || s[:len("cartographer.")] != "cartographer." {
			t.Errorf("subject %q is outside the cartographer namespace", s)
		}
	}
}
