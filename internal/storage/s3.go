// Package storage archives raw source payloads to S3-compatible object
// storage. The archive is the replay source for idempotent re-ingestion
// and is keyed by event id, so re-archiving the same event overwrites
// in place.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/contextiq/backend/internal/util"
	"github.com/contextiq/backend/pkg/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

func archiveKey(source common.Source, eventID string) string {
	return fmt.Sprintf("events/%s/%s.json", source, eventID)
}

// ArchiveEvent stores the event's raw payload under
// events/{source}/{event_id}.json.
func ArchiveEvent(ctx context.Context, client *s3.Client, event common.CanonicalEvent) (string, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	key := archiveKey(event.Source, event.ID)

	payload := event.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive event %s: %v", event.ID, err)
	}

	return key, nil
}

// S3Archiver adapts the S3 archive calls to the orchestrator's archiver
// boundary. A nil client turns archival off.
type S3Archiver struct {
	Client *s3.Client
}

func (a *S3Archiver) ArchiveEvent(ctx context.Context, event common.CanonicalEvent) error {
	if a == nil || a.Client == nil {
		return nil
	}
	_, err := ArchiveEvent(ctx, a.Client, event)
	return err
}

// GetArchivedEvent fetches a previously archived raw payload.
func GetArchivedEvent(ctx context.Context, client *s3.Client, source common.Source, eventID string) ([]byte, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(archiveKey(source, eventID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get archived event %s: %v", eventID, err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read archived event %s: %v", eventID, err)
	}

	return buf.Bytes(), nil
}

// ListArchivedEvents returns the archive keys for one source.
func ListArchivedEvents(ctx context.Context, client *s3.Client, source common.Source) ([]string, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	prefix := fmt.Sprintf("events/%s/", source)

	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list archived events for %s: %w", source, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
