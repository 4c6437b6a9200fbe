package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/profiles"
)

// SnapshotEntry is one indexed talent in a backup. Vectors are omitted
// on purpose; they are re-derivable from the profile text.
type SnapshotEntry struct {
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Snapshot is the daily backup payload
type Snapshot struct {
	TakenAt time.Time       `json:"taken_at"`
	Entries []SnapshotEntry `json:"entries"`
}

// SnapshotStore persists snapshots somewhere durable
type SnapshotStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// Backup serialises the live index membership into a timestamped snapshot
func (m *Manager) Backup(ctx context.Context, store SnapshotStore) error {
	list, err := m.store.List(ctx, profiles.ListOptions{Status: models.TalentActive})
	if err != nil {
		return err
	}

	snap := Snapshot{TakenAt: time.Now().UTC()}
	for _, p := range list {
		entry, err := m.index.Fetch(ctx, p.ID)
		if err != nil {
			continue
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{ID: entry.ID, Metadata: entry.Metadata})
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].ID < snap.Entries[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("snapshot-%s.json", snap.TakenAt.Format("20060102T150405"))
	if err := store.Save(ctx, name, data); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to save snapshot")
	}
	m.metrics.IncrementCounter("indexer_backups_total", 1)
	m.logger.Info("index snapshot saved", map[string]interface{}{
		"name":    name,
		"entries": len(snap.Entries),
	})
	return nil
}

// FileSnapshotStore keeps snapshots as files in a directory
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates the directory if needed
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "failed to create snapshot dir")
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) Save(_ context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *FileSnapshotStore) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "snapshot %s not found", name)
	}
	return data, err
}

func (s *FileSnapshotStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// s3API is the subset of the S3 client the store needs; narrowed for tests
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3SnapshotStore keeps snapshots in an S3 bucket under a fixed prefix
type S3SnapshotStore struct {
	client s3API
	bucket string
	prefix string
}

// NewS3SnapshotStore wraps an S3 client
func NewS3SnapshotStore(client s3API, bucket, prefix string) *S3SnapshotStore {
	return &S3SnapshotStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3SnapshotStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3SnapshotStore) Save(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3SnapshotStore) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *S3SnapshotStore) List(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			names = append(names, filepath.Base(aws.ToString(obj.Key)))
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}
