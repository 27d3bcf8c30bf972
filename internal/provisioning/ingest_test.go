package provisioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openidx/hrsync/internal/common/config"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/feed"
	"github.com/openidx/hrsync/internal/operation"
)

const header = "Identifiant;Prénom;Nom;E-mail;Date entrée poste;Date de fin"

type ingestFixture struct {
	inbox     string
	processed string
	repo      *operation.MemoryRepository
	dir       *fakeDirectory
	ingester  *Ingester
	logs      *observer.ObservedLogs
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	root := t.TempDir()
	f := &ingestFixture{
		inbox:     filepath.Join(root, "inbox"),
		processed: filepath.Join(root, "processed"),
		repo:      operation.NewMemoryRepository(),
		dir:       newFakeDirectory(),
	}
	require.NoError(t, os.MkdirAll(f.inbox, 0o750))

	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	f.ingester = NewIngester(f.repo, IngesterConfig{
		Inbox:        f.inbox,
		ProcessedDir: f.processed,
		Mapping:      feed.Mapping(config.DefaultColumns()),
		Location:     time.UTC,
	}, nil, zap.New(core))
	f.ingester.now = func() time.Time { return time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC) }
	return f
}

func (f *ingestFixture) write(t *testing.T, name string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.inbox, name), []byte(content), 0o600))
}

func (f *ingestFixture) run(t *testing.T) (IngestResult, error) {
	t.Helper()
	files, err := f.ingester.Pending()
	require.NoError(t, err)
	return f.ingester.Ingest(context.Background(), f.dir, files)
}

func TestPendingOrder(t *testing.T) {
	f := newIngestFixture(t)
	for _, name := range []string{"position_update_1.csv", "employee_update_1.csv", "hiring_2.csv", "hiring_1.csv", "notes.txt"} {
		f.write(t, name, header)
	}
	require.NoError(t, os.Mkdir(filepath.Join(f.inbox, "hiring_dir"), 0o750))

	files, err := f.ingester.Pending()
	require.NoError(t, err)

	var names []string
	for _, p := range files {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"hiring_1.csv", "hiring_2.csv", "employee_update_1.csv", "position_update_1.csv"}, names)

	// files that are not extracts are reported and left in place
	skipped := f.logs.FilterMessage("file skipped").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "notes.txt", skipped[0].ContextMap()["file"])
	assert.FileExists(t, filepath.Join(f.inbox, "notes.txt"))
}

func TestPendingMissingInbox(t *testing.T) {
	f := newIngestFixture(t)
	require.NoError(t, os.RemoveAll(f.inbox))

	files, err := f.ingester.Pending()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngestAppliesFilesInOrder(t *testing.T) {
	f := newIngestFixture(t)
	// the update is only valid once the hiring has been ingested
	f.write(t, "employee_update_1.csv", header, "C1;Jean;Durand;;;")
	f.write(t, "hiring_1.csv", header, "C1;Jean;Dupont;jean@example.org;01/03/2024;31/12/2024")

	result, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Files: 2, Rows: 2}, result)

	creation := get(t, f.repo, "C1", operation.Creation)
	require.NotNil(t, creation)
	assert.Equal(t, "Durand", creation.LastName)
	assert.Empty(t, creation.Email)
	assert.NotNil(t, get(t, f.repo, "C1", operation.Deletion))

	for _, name := range []string{"hiring_1.csv", "employee_update_1.csv"} {
		assert.FileExists(t, filepath.Join(f.processed, "2024", "03", name))
		assert.NoFileExists(t, filepath.Join(f.inbox, name))
	}
}

func TestIngestTwiceIsIdempotent(t *testing.T) {
	f := newIngestFixture(t)
	rows := []string{header, "C1;Jean;Dupont;jean@example.org;01/03/2024;31/12/2024", "C2;Paul;Martin;;02/03/2024;"}

	f.write(t, "hiring_1.csv", rows...)
	_, err := f.run(t)
	require.NoError(t, err)
	first, err := f.repo.Due(context.Background(), operation.Creation, date(2100, 1, 1))
	require.NoError(t, err)

	f.write(t, "hiring_1.csv", rows...)
	_, err = f.run(t)
	require.NoError(t, err)
	second, err := f.repo.Due(context.Background(), operation.Creation, date(2100, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, f.repo.Len())
}

func TestIngestRowErrors(t *testing.T) {
	f := newIngestFixture(t)
	f.write(t, "hiring_1.csv", header,
		"C1;Jean;Dupont;;01/03/2024;",
		";Nobody;Here;;01/03/2024;",
		"C3;Bad;Date;;2024-03-01;",
		"C4;Paul;Martin;;02/03/2024;",
	)

	result, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Files: 1, Rows: 4, Failed: 2}, result)
	assert.Equal(t, 2, f.repo.Len())

	rejected := f.logs.FilterMessage("row rejected").All()
	require.Len(t, rejected, 2)
	assert.Equal(t, int64(2), rejected[0].ContextMap()["line"])
	assert.Equal(t, "", rejected[0].ContextMap()["user_id"])
	assert.Equal(t, int64(3), rejected[1].ContextMap()["line"])
	assert.Equal(t, "C3", rejected[1].ContextMap()["user_id"])
	assert.Equal(t, "hiring_1.csv", rejected[1].ContextMap()["file"])

	assert.FileExists(t, filepath.Join(f.processed, "2024", "03", "hiring_1.csv"))
}

func TestIngestStructuralError(t *testing.T) {
	f := newIngestFixture(t)
	f.write(t, "hiring_1.csv", "Identifiant;Prénom;Nom;Date entrée poste;Date de fin", "C1;Jean;Dupont;01/03/2024;")
	f.write(t, "hiring_2.csv", header, "C2;Paul;Martin;;01/03/2024;")

	result, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Files: 2, Aborted: 1, Rows: 1}, result)
	assert.Nil(t, get(t, f.repo, "C1", operation.Creation))
	assert.NotNil(t, get(t, f.repo, "C2", operation.Creation))

	aborted := f.logs.FilterMessage("file aborted").All()
	require.Len(t, aborted, 1)
	assert.Equal(t, "hiring_1.csv", aborted[0].ContextMap()["file"])

	// an aborted file is still moved out of the inbox
	assert.FileExists(t, filepath.Join(f.processed, "2024", "03", "hiring_1.csv"))
}

func TestIngestSkipsUnknownFiles(t *testing.T) {
	f := newIngestFixture(t)
	path := filepath.Join(f.inbox, "payroll.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"\n"), 0o600))

	result, err := f.ingester.Ingest(context.Background(), f.dir, []string{path})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{}, result)
	assert.FileExists(t, path)
	assert.Equal(t, 1, f.logs.FilterMessage("file skipped").Len())
}

func TestIngestStopsOnTransportError(t *testing.T) {
	f := newIngestFixture(t)
	f.dir = newFakeDirectory(directory.Account{UserID: "C1"})
	f.dir.updateErr["C1"] = apperrors.Transport("connection reset", nil)
	f.write(t, "hiring_1.csv", header, "C9;Ann;Lee;;01/03/2024;")
	f.write(t, "employee_update_1.csv", header, "C1;Jean;Durand;;;", "C2;Paul;Martin;;01/03/2024;")

	result, err := f.run(t)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 2, result.Rows)

	// the interrupted file stays in the inbox for the next run
	assert.FileExists(t, filepath.Join(f.processed, "2024", "03", "hiring_1.csv"))
	assert.FileExists(t, filepath.Join(f.inbox, "employee_update_1.csv"))
	assert.Nil(t, get(t, f.repo, "C2", operation.Creation))
}

func TestArchiveUsesLocation(t *testing.T) {
	f := newIngestFixture(t)
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("time zone database not available")
	}
	f.ingester.location = paris
	f.ingester.now = func() time.Time { return time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC) }
	f.write(t, "hiring_1.csv", header)

	_, err = f.run(t)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.processed, "2024", "04", "hiring_1.csv"))
}
