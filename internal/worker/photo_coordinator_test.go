package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

type fakePhotoStore struct {
	mu       sync.Mutex
	photos   map[string]*types.OfflinePhoto
	statuses map[string]types.PhotoStatus
	deleted  []string
}

func newFakePhotoStore(photos ...*types.OfflinePhoto) *fakePhotoStore {
	s := &fakePhotoStore{
		photos:   make(map[string]*types.OfflinePhoto),
		statuses: make(map[string]types.PhotoStatus),
	}
	for _, p := range photos {
		s.photos[p.ID] = p
		s.statuses[p.ID] = p.Status
	}
	return s
}

func (s *fakePhotoStore) GetReplayablePhotos(ctx context.Context) ([]types.OfflinePhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.OfflinePhoto
	for id, p := range s.photos {
		if st := s.statuses[id]; st == types.PhotoPending || st == types.PhotoFailed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePhotoStore) UpdatePhotoStatus(ctx context.Context, id string, status types.PhotoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakePhotoStore) DeletePhoto(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.photos, id)
	delete(s.statuses, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]error
	sent []string
}

func (f *fakeSender) Upload(ctx context.Context, photo *types.OfflinePhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[photo.ID]; err != nil {
		return err
	}
	f.sent = append(f.sent, photo.ID)
	return nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	err      error
	archived []string
}

func (f *fakeArchiver) Archive(ctx context.Context, photo *types.OfflinePhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, photo.ID)
	return nil
}

func pendingPhoto(id string) *types.OfflinePhoto {
	return &types.OfflinePhoto{
		ID:            id,
		ApplicationID: "APP-007",
		DocumentType:  "meter-photo",
		Blob:          []byte("jpeg"),
		FileName:      id + ".jpg",
		Status:        types.PhotoPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestPhotoCoordinator_DrainUploadsArchivesAndDeletes(t *testing.T) {
	st := newFakePhotoStore(pendingPhoto("p1"), pendingPhoto("p2"))
	sender := &fakeSender{}
	arch := &fakeArchiver{}
	c := NewPhotoUploadCoordinator(st, sender, arch, &fakeStatusSource{online: true}, time.Hour)

	c.drain(context.Background())

	if len(sender.sent) != 2 {
		t.Errorf("expected 2 uploads, got %v", sender.sent)
	}
	if len(arch.archived) != 2 {
		t.Errorf("expected 2 archives, got %v", arch.archived)
	}
	if len(st.deleted) != 2 {
		t.Errorf("uploaded photos must be deleted locally, got %v", st.deleted)
	}
	remaining, _ := st.GetReplayablePhotos(context.Background())
	if len(remaining) != 0 {
		t.Errorf("expected empty backlog, got %d photos", len(remaining))
	}
}

func TestPhotoCoordinator_FailedPhotosStayEligible(t *testing.T) {
	st := newFakePhotoStore(pendingPhoto("p1"), pendingPhoto("p2"))
	sender := &fakeSender{fail: map[string]error{"p2": errors.New("413 too large")}}
	c := NewPhotoUploadCoordinator(st, sender, &fakeArchiver{}, &fakeStatusSource{online: true}, time.Hour)

	c.drain(context.Background())

	st.mu.Lock()
	status := st.statuses["p2"]
	st.mu.Unlock()
	if status != types.PhotoFailed {
		t.Errorf("expected p2 marked failed, got %s", status)
	}

	// The server recovers; a later pass drains the failed photo too.
	sender.mu.Lock()
	sender.fail = nil
	sender.mu.Unlock()
	c.drain(context.Background())

	remaining, _ := st.GetReplayablePhotos(context.Background())
	if len(remaining) != 0 {
		t.Errorf("expected failed photo retried and drained, got %d left", len(remaining))
	}
}

func TestPhotoCoordinator_ArchiveFailureStillDeletesLocalCopy(t *testing.T) {
	st := newFakePhotoStore(pendingPhoto("p1"))
	c := NewPhotoUploadCoordinator(st, &fakeSender{}, &fakeArchiver{err: errors.New("bucket gone")},
		&fakeStatusSource{online: true}, time.Hour)

	c.drain(context.Background())

	if len(st.deleted) != 1 {
		t.Error("archive failure must not strand the uploaded photo locally")
	}
}

func TestPhotoCoordinator_OfflineSkipsPass(t *testing.T) {
	st := newFakePhotoStore(pendingPhoto("p1"))
	sender := &fakeSender{}
	c := NewPhotoUploadCoordinator(st, sender, &fakeArchiver{}, &fakeStatusSource{online: false}, time.Hour)

	c.drain(context.Background())

	if len(sender.sent) != 0 {
		t.Errorf("expected no uploads while offline, got %v", sender.sent)
	}
}

func TestPhotoCoordinator_ReconnectTriggersDrain(t *testing.T) {
	st := newFakePhotoStore(pendingPhoto("p1"))
	sender := &fakeSender{}
	network := &fakeStatusSource{online: false}
	c := NewPhotoUploadCoordinator(st, sender, &fakeArchiver{}, network, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	network.waitForSubscriber(t)
	network.emit(false)
	network.emit(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reconnect never triggered a drain")
}
