package lsm

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
)

func newTestManifest(t *testing.T, dir string) *Manifest {
	t.Helper()
	m, err := OpenManifest(dir, 42, newTestOptions())
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}
	return m
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := newTestManifest(t, dir)
	m.SetRowSize(10)
	for i := uint64(0); i < 7; i++ {
		m.GlobalAdd(i)
		sst := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(i, byte(i))})
		if err := m.RegisterRun(sst); err != nil {
			t.Fatalf("RegisterRun: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTestManifest(t, dir)
	defer reopened.Close()

	if reopened.RunCount() != 7 {
		t.Fatalf("RunCount = %d, want 7", reopened.RunCount())
	}
	if reopened.RowSize() != 10 {
		t.Errorf("RowSize = %d, want 10", reopened.RowSize())
	}
	for i := uint64(0); i < 7; i++ {
		if !reopened.GlobalContains(i) {
			t.Errorf("global filter lost key %d", i)
		}
		e, ok, err := reopened.Get(i)
		if err != nil || !ok || !bytes.Equal(e.Value, []byte{byte(i)}) {
			t.Errorf("Get(%d) = %+v, %v, %v", i, e, ok, err)
		}
	}
}

func TestManifestSaveRequiresRowSize(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()

	// Cataloging a run before any write recorded the row size is a
	// sequencing bug; the save must refuse.
	sst := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'a')})
	if err := m.RegisterRun(sst); !errors.Is(err, ErrUnknownRowSize) {
		t.Fatalf("RegisterRun without row size = %v, want ErrUnknownRowSize", err)
	}

	// Once the row size lands, saving succeeds.
	m.SetRowSize(1)
	if err := m.Save(); err != nil {
		t.Fatalf("Save after SetRowSize: %v", err)
	}
}

func TestManifestRowSizeSetOnce(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()

	m.SetRowSize(8)
	m.SetRowSize(100)
	if m.RowSize() != 8 {
		t.Errorf("RowSize = %d, want first-write value 8", m.RowSize())
	}
}

func TestManifestNewestRunWins(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()
	m.SetRowSize(1)

	older := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'o')})
	if err := m.RegisterRun(older); err != nil {
		t.Fatal(err)
	}
	newer := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'n')})
	if err := m.RegisterRun(newer); err != nil {
		t.Fatal(err)
	}

	e, ok, err := m.Get(1)
	if err != nil || !ok || !bytes.Equal(e.Value, []byte{'n'}) {
		t.Errorf("Get(1) = %+v, %v, %v, want newest value", e, ok, err)
	}
}

func TestManifestDeeperLevelShadowed(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()
	m.SetRowSize(1)

	deep := archiveTestRun(t, m.Factory(), 1, []codec.Entry{valueEntry(1, 'd')})
	if err := m.RegisterRun(deep); err != nil {
		t.Fatal(err)
	}
	shallow := archiveTestRun(t, m.Factory(), 0, []codec.Entry{tombstoneEntry(1)})
	if err := m.RegisterRun(shallow); err != nil {
		t.Fatal(err)
	}

	e, ok, err := m.Get(1)
	if err != nil || !ok || !e.IsTombstone() {
		t.Errorf("Get(1) = %+v, %v, %v, want L0 tombstone to shadow L1 value", e, ok, err)
	}
}

func TestManifestRetireRuns(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()
	m.SetRowSize(1)

	a := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'a')})
	b := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(2, 'b')})
	m.RegisterRun(a)
	m.RegisterRun(b)

	pathA := a.Path()
	if err := m.RetireRuns([]*SSTable{a}); err != nil {
		t.Fatal(err)
	}

	if m.RunCount() != 1 {
		t.Errorf("RunCount = %d, want 1", m.RunCount())
	}
	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Error("retired run file should be deleted immediately")
	}
	if _, ok, _ := m.Get(2); !ok {
		t.Error("remaining run should stay readable")
	}
}

func TestManifestDeferredDeleteDuringScan(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()
	m.SetRowSize(1)

	sst := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'a')})
	m.RegisterRun(sst)
	path := sst.Path()

	pinned := m.BeginIter()
	if len(pinned) != 1 {
		t.Fatalf("BeginIter pinned %d runs, want 1", len(pinned))
	}

	if err := m.RetireRuns([]*SSTable{sst}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("run file must survive while a scan is in progress")
	}

	m.EndIter()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("run file should be deleted once the scan ends")
	}
}

func TestManifestFreshOnBadMagic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MetaFileName), []byte("not a manifest, definitely"), 0644); err != nil {
		t.Fatal(err)
	}

	m := newTestManifest(t, dir)
	defer m.Close()

	if m.RunCount() != 0 {
		t.Errorf("RunCount = %d, want fresh manifest", m.RunCount())
	}
}

func TestManifestSweepsOrphans(t *testing.T) {
	dir := t.TempDir()

	m := newTestManifest(t, dir)
	m.SetRowSize(1)
	sst := archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'a')})
	m.RegisterRun(sst)
	livePath := sst.Path()
	m.Close()

	// An unregistered run (failed flush) and an abandoned temp file.
	orphanRun := filepath.Join(dir, MakeSSTableKey(0, 1700000000000).FileName())
	os.WriteFile(orphanRun, []byte("junk"), 0644)
	orphanTmp := filepath.Join(dir, "0b8e5c4e-dead-beef-cafe-000000000000.tmp")
	os.WriteFile(orphanTmp, []byte("junk"), 0644)

	reopened := newTestManifest(t, dir)
	defer reopened.Close()

	if _, err := os.Stat(orphanRun); !os.IsNotExist(err) {
		t.Error("orphaned run file should be swept")
	}
	if _, err := os.Stat(orphanTmp); !os.IsNotExist(err) {
		t.Error("orphaned temp file should be swept")
	}
	if _, err := os.Stat(livePath); err != nil {
		t.Error("registered run file must survive the sweep")
	}
}

func TestManifestSizeOnDisk(t *testing.T) {
	m := newTestManifest(t, t.TempDir())
	defer m.Close()
	m.SetRowSize(1)

	m.RegisterRun(archiveTestRun(t, m.Factory(), 0, []codec.Entry{valueEntry(1, 'a')}))

	size, err := m.SizeOnDisk()
	if err != nil {
		t.Fatal(err)
	}
	if size <= RunHeaderSize {
		t.Errorf("SizeOnDisk = %d, want at least a run and the meta file", size)
	}
}
