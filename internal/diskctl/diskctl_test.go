package diskctl_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ucsdpsys/ucsdpsys-go/internal/diskctl"
	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

type fakeMount struct {
	stats       volume.Statfs
	crunchFreed int
	crunchErr   error
}

func (f *fakeMount) Stats() volume.Statfs { return f.stats }
func (f *fakeMount) Crunch() (int, error) { return f.crunchFreed, f.crunchErr }

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := diskctl.Dial(path); err == nil {
			c.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("diskctl: socket %s never came up", path)
}

func TestPingStatsCrunch(t *testing.T) {
	t.Parallel()

	sock := filepath.Join(t.TempDir(), "ucsdpsys.ctl")
	mount := &fakeMount{
		stats:       volume.Statfs{BlockSize: 512, Blocks: 280, BlocksFree: 40, Files: 12},
		crunchFreed: 7,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- diskctl.Serve(ctx, sock, mount) }()
	waitForSocket(t, sock)

	client, err := diskctl.Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats != mount.stats {
		t.Errorf("Stats() = %+v, want %+v", stats, mount.stats)
	}

	freed, err := client.Crunch()
	if err != nil {
		t.Fatalf("Crunch: %v", err)
	}
	if freed != mount.crunchFreed {
		t.Errorf("Crunch() = %d, want %d", freed, mount.crunchFreed)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after ctx cancellation")
	}
}
