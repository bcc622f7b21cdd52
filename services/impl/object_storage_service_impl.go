package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
)

const (
	originalObjectName  = "original"
	extractedObjectName = "extracted.txt"
	bm25IndexObjectName = "bm25_doc_index.json"
	chunksPrefix        = "chunks"

	// artifactUploadConcurrency bounds parallel puts for one document.
	artifactUploadConcurrency = 8
)

// objectStorageServiceImpl stores per-document artifacts in an S3-compatible
// bucket under the layout {uuid}/original, {uuid}/extracted.txt,
// {uuid}/chunks/NNN.json and {uuid}/bm25_doc_index.json.
type objectStorageServiceImpl struct {
	client *minio.Client
	bucket string
}

// NewObjectStorageService connects to the object store and ensures the
// bucket exists.
func NewObjectStorageService(ctx context.Context, cfg *config.ObjectStoreConfig) (services.ObjectStorageService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable, "failed to connect to object store", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable, "failed to check bucket", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, models.WrapServiceError(models.ErrKindStoreUnavailable, "failed to create bucket", err)
		}
	}

	return &objectStorageServiceImpl{client: client, bucket: cfg.Bucket}, nil
}

// NewObjectStorageServiceWithClient wires an existing client, for tests.
func NewObjectStorageServiceWithClient(client *minio.Client, bucket string) services.ObjectStorageService {
	return &objectStorageServiceImpl{client: client, bucket: bucket}
}

func objectKey(docUUID uuid.UUID, name string) string {
	return fmt.Sprintf("%s/%s", docUUID.String(), name)
}

// ChunkObjectName returns the object name of one chunk payload, zero-padded
// so object listings sort in chunk order.
func ChunkObjectName(index int) string {
	return fmt.Sprintf("%s/%03d.json", chunksPrefix, index)
}

// UploadArtifacts writes every artifact for a document. Uploads run in
// parallel; any failure aborts the group and the caller is expected to clean
// up the prefix before surfacing the error.
func (s *objectStorageServiceImpl) UploadArtifacts(ctx context.Context, docUUID uuid.UUID, original []byte, contentType string, extracted string, chunks []models.ChunkPayload, index models.BM25DocIndex) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(artifactUploadConcurrency)

	g.Go(func() error {
		return s.put(gctx, objectKey(docUUID, originalObjectName), original, contentType)
	})
	g.Go(func() error {
		return s.put(gctx, objectKey(docUUID, extractedObjectName), []byte(extracted), "text/plain; charset=utf-8")
	})
	g.Go(func() error {
		data, err := json.Marshal(index)
		if err != nil {
			return fmt.Errorf("failed to marshal lexical index: %w", err)
		}
		return s.put(gctx, objectKey(docUUID, bm25IndexObjectName), data, "application/json")
	})

	for _, chunk := range chunks {
		g.Go(func() error {
			data, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("failed to marshal chunk %d: %w", chunk.Index, err)
			}
			return s.put(gctx, objectKey(docUUID, ChunkObjectName(chunk.Index)), data, "application/json")
		})
	}

	if err := g.Wait(); err != nil {
		return models.WrapServiceError(models.ErrKindStoreUnavailable, "artifact upload failed", err)
	}
	return nil
}

func (s *objectStorageServiceImpl) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to store object '%s': %w", key, err)
	}
	return nil
}

func (s *objectStorageServiceImpl) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable,
			fmt.Sprintf("failed to open object '%s'", key), err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, models.NewServiceError(models.ErrKindNotFound,
				fmt.Sprintf("object '%s' not found", key))
		}
		return nil, models.WrapServiceError(models.ErrKindStoreUnavailable,
			fmt.Sprintf("failed to read object '%s'", key), err)
	}
	return data, nil
}

func (s *objectStorageServiceImpl) FetchChunk(ctx context.Context, docUUID uuid.UUID, chunkIndex int) (*models.ChunkPayload, error) {
	data, err := s.get(ctx, objectKey(docUUID, ChunkObjectName(chunkIndex)))
	if err != nil {
		return nil, err
	}

	var chunk models.ChunkPayload
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, models.WrapServiceError(models.ErrKindInconsistent,
			fmt.Sprintf("corrupt chunk payload %d for document %s", chunkIndex, docUUID), err)
	}
	return &chunk, nil
}

// FetchChunks loads all chunk payloads for a document in parallel, preserving
// chunk order.
func (s *objectStorageServiceImpl) FetchChunks(ctx context.Context, docUUID uuid.UUID, chunkCount int) ([]models.ChunkPayload, error) {
	chunks := make([]models.ChunkPayload, chunkCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(artifactUploadConcurrency)
	for i := 0; i < chunkCount; i++ {
		g.Go(func() error {
			chunk, err := s.FetchChunk(gctx, docUUID, i)
			if err != nil {
				return err
			}
			chunks[i] = *chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *objectStorageServiceImpl) FetchBM25Index(ctx context.Context, docUUID uuid.UUID) (*models.BM25DocIndex, error) {
	data, err := s.get(ctx, objectKey(docUUID, bm25IndexObjectName))
	if err != nil {
		return nil, err
	}

	var index models.BM25DocIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, models.WrapServiceError(models.ErrKindInconsistent,
			fmt.Sprintf("corrupt lexical index for document %s", docUUID), err)
	}
	return &index, nil
}

func (s *objectStorageServiceImpl) FetchExtractedText(ctx context.Context, docUUID uuid.UUID) (string, error) {
	data, err := s.get(ctx, objectKey(docUUID, extractedObjectName))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *objectStorageServiceImpl) FetchOriginal(ctx context.Context, docUUID uuid.UUID) ([]byte, error) {
	return s.get(ctx, objectKey(docUUID, originalObjectName))
}

// DeletePrefix removes every object under a document's prefix and returns
// how many were deleted. Used both by document deletion and by ingestion
// cleanup after a failed commit.
func (s *objectStorageServiceImpl) DeletePrefix(ctx context.Context, docUUID uuid.UUID) (int64, error) {
	prefix := docUUID.String() + "/"

	var deleted int64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return deleted, models.WrapServiceError(models.ErrKindStoreUnavailable,
				fmt.Sprintf("failed to list objects under '%s'", prefix), obj.Err)
		}
		if !strings.HasPrefix(obj.Key, prefix) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, models.WrapServiceError(models.ErrKindStoreUnavailable,
				fmt.Sprintf("failed to delete object '%s'", obj.Key), err)
		}
		deleted++
	}

	return deleted, nil
}
