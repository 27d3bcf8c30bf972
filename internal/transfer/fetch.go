package transfer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/feed"
)

// Fetcher downloads the extracts of the export folder into the inbox
type Fetcher struct {
	exportFolder string
	inbox        string
	cleanup      bool
	logger       *zap.Logger
}

// NewFetcher creates a Fetcher. With cleanup the remote copy is deleted once
// downloaded.
func NewFetcher(exportFolder, inbox string, cleanup bool, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		exportFolder: strings.TrimSuffix(exportFolder, "/"),
		inbox:        inbox,
		cleanup:      cleanup,
		logger:       logger.With(zap.String("component", "fetcher")),
	}
}

// Fetch downloads every extract with a known prefix and returns the local
// paths written. Other files are left on the server.
func (f *Fetcher) Fetch(ctx context.Context, client Client) ([]string, error) {
	if err := os.MkdirAll(f.inbox, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create inbox %s: %w", f.inbox, err)
	}

	names, err := client.List(ctx, f.exportFolder)
	if err != nil {
		return nil, err
	}

	var fetched []string
	for _, name := range names {
		remote := f.remotePath(name)
		base := path.Base(remote)
		if !feed.IsExtract(base) {
			continue
		}

		local := filepath.Join(f.inbox, base)
		if err := f.download(ctx, client, remote, local); err != nil {
			return fetched, err
		}
		fetched = append(fetched, local)

		if f.cleanup {
			if err := client.Delete(ctx, remote); err != nil {
				return fetched, err
			}
		}
		f.logger.Info("fetched file", zap.String("file", base), zap.Bool("remote_deleted", f.cleanup))
	}
	return fetched, nil
}

// remotePath prefixes name with the export folder; servers differ in whether
// listings include it
func (f *Fetcher) remotePath(name string) string {
	if f.exportFolder == "" || strings.HasPrefix(name, f.exportFolder+"/") {
		return name
	}
	return f.exportFolder + "/" + name
}

func (f *Fetcher) download(ctx context.Context, client Client, remote, local string) (err error) {
	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(local)
		}
	}()
	return client.Fetch(ctx, remote, out)
}
