package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/imageloom/internal/codec"
	"github.com/dunamismax/imageloom/internal/domain"
	"github.com/dunamismax/imageloom/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, variant Variant, rendered Rendered) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(variant.ID) == "" {
		return Output{}, errors.New("variant id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		fmt.Sprintf("%s.%s", sanitizePathToken(variant.ID), rendered.Format),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, rendered.Data, codec.ContentType(rendered.Format)); err != nil {
		return Output{}, err
	}

	return Output{
		VariantID: variant.ID,
		Format:    rendered.Format,
		Path:      objectKey,
		Bytes:     len(rendered.Data),
		Width:     rendered.Width,
		Height:    rendered.Height,
		CacheHit:  rendered.CacheHit,
		Coalesced: rendered.Coalesced,
		Success:   true,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
