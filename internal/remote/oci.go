package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/snapsync"
)

const DefaultConcurrency = 4

const rootLabel = "dev.snapsync.root"

// Registry addresses one snapshot image ref (e.g., "ttl.sh/team/solution:main").
type Registry struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
}

// NewRegistry creates a registry handle from a standard image ref.
func NewRegistry(imageRef string, auth Authenticator) (*Registry, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	return &Registry{ref: ref, auth: auth, concurrency: DefaultConcurrency}, nil
}

// SetConcurrency sets the number of parallel layer operations.
func (r *Registry) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *Registry) String() string   { return r.ref.String() }
func (r *Registry) registry() string { return r.ref.Context().RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for transfer.
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}

func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}

func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Publish uploads a snapshot graph: every encoded node packed into layers,
// with the root checksum recorded as a config label.
func (r *Registry) Publish(ctx context.Context, root snapsync.Checksum, objects map[string][]byte) error {
	plan := planLayers(objects)

	fmt.Fprintf(os.Stderr, "[publish] %d nodes into %d layers\n", len(objects), len(plan))

	layers := make([]v1.Layer, 0, len(plan))
	for _, group := range plan {
		layers = append(layers, newBlobLayer(packObjects(group, objects)))
	}

	img, err := mutate.AppendLayers(empty.Image, layers...)
	if err != nil {
		return fmt.Errorf("append layers: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	cfg.Config.Labels = map[string]string{rootLabel: string(root)}

	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	options := authOptions(r.auth, r.registry())
	options = append(options, remote.WithJobs(r.concurrency))
	if _, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	}); err != nil {
		return fmt.Errorf("push to %s: %w", r.ref, err)
	}

	fmt.Fprintf(os.Stderr, "[publish] done, root %s\n", root.Short())
	return nil
}

// Source is an OCI-backed snapsync.AssetSource. The image is pulled once,
// on first use; individual Fetch calls then resolve from the unpacked
// object set.
type Source struct {
	reg *Registry

	once    sync.Once
	objects map[string][]byte
	root    snapsync.Checksum
	loadErr error
}

// NewSource creates a source reading the snapshot image at imageRef.
func NewSource(imageRef string, auth Authenticator) (*Source, error) {
	reg, err := NewRegistry(imageRef, auth)
	if err != nil {
		return nil, err
	}
	return &Source{reg: reg}, nil
}

// SetConcurrency sets the number of parallel layer downloads.
func (s *Source) SetConcurrency(n int) {
	s.reg.SetConcurrency(n)
}

// Root returns the published root checksum.
func (s *Source) Root(ctx context.Context) (snapsync.Checksum, error) {
	if err := s.load(ctx); err != nil {
		return "", err
	}
	return s.root, nil
}

// Fetch implements snapsync.AssetSource.
func (s *Source) Fetch(ctx context.Context, sum snapsync.Checksum) ([]byte, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	data, ok := s.objects[string(sum)]
	if !ok {
		return nil, fmt.Errorf("%w: %s not in %s", snapsync.ErrAssetNotFound, sum.Short(), s.reg)
	}
	return data, nil
}

func (s *Source) load(ctx context.Context) error {
	s.once.Do(func() {
		s.objects, s.root, s.loadErr = s.pull(ctx)
	})
	return s.loadErr
}

// pull downloads the image, unpacking all layers in parallel.
func (s *Source) pull(ctx context.Context) (map[string][]byte, snapsync.Checksum, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(s.reg.ref, authOptions(s.reg.auth, s.reg.registry())...)
	})
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, "", fmt.Errorf("get config: %w", err)
	}
	root := snapsync.Checksum(cfg.Config.Labels[rootLabel])
	if root == "" {
		return nil, "", fmt.Errorf("missing %s label", rootLabel)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, "", fmt.Errorf("get layers: %w", err)
	}

	fmt.Fprintf(os.Stderr, "[pull] downloading %d layers\n", len(layers))

	var mu sync.Mutex
	objects := make(map[string][]byte)

	p := pool.New().WithMaxGoroutines(s.reg.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		layer := layer
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			blobs, err := unpackObjects(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for k, v := range blobs {
				objects[k] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, "", err
	}

	fmt.Fprintf(os.Stderr, "[pull] done, %d nodes received\n", len(objects))
	return objects, root, nil
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
