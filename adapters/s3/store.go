package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

const (
	// Objects bigger than this are fetched with the multipart downloader.
	largeObjectMinSize = 10 * 1024 * 1024
	maxReadConcurrency = 16
	versionSequence    = "@version"
	versionMetadataKey = "docstore-version"
)

// Store keeps one object per document. Execute serializes batches of this process
// and validates every precondition before writing. Other writers are detected through
// conditional requests and surface as ConcurrencyViolation, a conflict detected
// mid-way leaves the earlier writes of the batch applied.
type Store struct {
	client    *s3.Client
	config    Config
	separator string
	locker    sync.Mutex
}

var _ docstore.Backend = (*Store)(nil)

// NewStore returns a store over client using config's bucket and prefix.
func NewStore(client *s3.Client, config Config, separator string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name can't be empty")
	}
	if separator == "" {
		separator = "/"
	}
	return &Store{client: client, config: config, separator: separator}, nil
}

type object struct {
	doc  docstore.Document
	etag string
}

// Get fetches documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	objs, err := s.read(ctx, ids)
	if err != nil {
		return nil, err
	}
	r := make([]docstore.Document, len(ids))
	for i := range objs {
		r[i] = objs[i].doc
	}
	return r, nil
}

func (s *Store) read(ctx context.Context, ids []string) ([]object, error) {
	r := make([]object, len(ids))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxReadConcurrency)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			ba, etag, err := s.fetch(ctx, s.documentKey(id))
			if err != nil {
				return fmt.Errorf("s3 get failed for %s: %w", id, err)
			}
			if ba == nil {
				return nil
			}
			var d docstore.Document
			if err := encoding.DocumentMarshaler.Unmarshal(ba, &d); err != nil {
				return fmt.Errorf("s3 document %s is corrupt: %w", id, err)
			}
			r[i] = object{doc: d, etag: etag}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

// fetch returns the object's content and ETag, nil content when it does not exist.
func (s *Store) fetch(ctx context.Context, key string) ([]byte, string, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer result.Body.Close()
	etag := aws.ToString(result.ETag)
	if aws.ToInt64(result.ContentLength) <= largeObjectMinSize {
		ba, err := io.ReadAll(result.Body)
		return ba, etag, err
	}

	// Download the large object in parts, pinned to the version just seen.
	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = largeObjectMinSize
	})
	buffer := manager.NewWriteAtBuffer([]byte{})
	if _, err := downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket:  aws.String(s.config.Bucket),
		Key:     aws.String(key),
		IfMatch: aws.String(etag),
	}); err != nil {
		if isPreconditionFailed(err) {
			return nil, "", docstore.NewError(docstore.ConcurrencyViolation, key, "object %s changed while downloading", key)
		}
		return nil, "", err
	}
	return buffer.Bytes(), etag, nil
}

// Execute applies commands, see Store for the atomicity guarantees.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	need := map[string]int64{}
	for _, c := range commands {
		if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
			need[docstore.ServerIDPrefix(c.ID, c.Document, s.separator)]++
		}
	}
	need[versionSequence] = int64(len(commands))
	next, err := s.reserve(ctx, need)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(commands))
	for i, c := range commands {
		ids[i] = c.ID
		if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
			p := docstore.ServerIDPrefix(c.ID, c.Document, s.separator)
			ids[i] = fmt.Sprintf("%s%d", p, next[p])
			next[p]++
		}
	}
	var distinct []string
	index := map[string]int{}
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			index[id] = len(distinct)
			distinct = append(distinct, id)
		}
	}
	objs, err := s.read(ctx, distinct)
	if err != nil {
		return nil, err
	}
	state := make(map[string]docstore.Document, len(distinct))
	for i, id := range distinct {
		state[id] = objs[i].doc
	}

	version := next[versionSequence]
	now := time.Now()
	touched := map[string]bool{}
	results := make([]docstore.Result, 0, len(commands))
	for i, c := range commands {
		m, err := docstore.ApplyCommand(c, ids[i], state[ids[i]], docstore.Version(version), now)
		if err != nil {
			return nil, err
		}
		if m.Write {
			version++
			state[m.ID] = m.Document
			touched[m.ID] = true
		} else if m.Remove {
			state[m.ID] = nil
			touched[m.ID] = true
		}
		results = append(results, m.Result)
	}

	for _, id := range distinct {
		if !touched[id] {
			continue
		}
		if err := s.write(ctx, id, objs[index[id]], state[id]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// write persists the final state of one document, conditioned on the ETag read earlier.
func (s *Store) write(ctx context.Context, id string, before object, after docstore.Document) error {
	key := s.documentKey(id)
	var err error
	switch {
	case after == nil && before.doc == nil:
		return nil
	case after == nil:
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket:  aws.String(s.config.Bucket),
			Key:     aws.String(key),
			IfMatch: aws.String(before.etag),
		})
	default:
		var ba []byte
		if ba, err = encoding.DocumentMarshaler.Marshal(after); err != nil {
			return err
		}
		in := &s3.PutObjectInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(ba),
			ContentType: aws.String("application/json"),
			Metadata: map[string]string{
				versionMetadataKey: strconv.FormatInt(int64(after.Metadata().Version()), 10),
			},
		}
		if before.doc == nil {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(before.etag)
		}
		_, err = s.client.PutObject(ctx, in)
	}
	if err == nil {
		return nil
	}
	if isPreconditionFailed(err) {
		log.Warn("s3 conditional write rejected, batch partially applied", "id", id)
		return docstore.NewError(docstore.ConcurrencyViolation, id, "document %s was changed by a concurrent writer", id)
	}
	return fmt.Errorf("s3 put failed for %s: %w", id, err)
}

// reserve advances the named sequences by the requested amounts and returns the first
// number reserved for each. The sequences object is updated with a conditional put.
func (s *Store) reserve(ctx context.Context, need map[string]int64) (map[string]int64, error) {
	var first map[string]int64
	key := s.sequencesKey()
	err := docstore.Retry(ctx, func(ctx context.Context) error {
		ba, etag, err := s.fetch(ctx, key)
		if err != nil {
			return docstore.RetryableError(fmt.Errorf("s3 sequences read failed: %w", err))
		}
		seqs := map[string]int64{}
		if ba != nil {
			if err := encoding.DefaultMarshaler.Unmarshal(ba, &seqs); err != nil {
				return fmt.Errorf("s3 sequences object is corrupt: %w", err)
			}
		}
		first = make(map[string]int64, len(need))
		for name, n := range need {
			first[name] = seqs[name] + 1
			seqs[name] += n
		}
		if ba, err = encoding.DefaultMarshaler.Marshal(seqs); err != nil {
			return err
		}
		in := &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(ba),
		}
		if etag == "" {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(etag)
		}
		if _, err := s.client.PutObject(ctx, in); err != nil {
			if isPreconditionFailed(err) {
				return docstore.RetryableError(fmt.Errorf("s3 sequences contended"))
			}
			return docstore.RetryableError(fmt.Errorf("s3 sequences write failed: %w", err))
		}
		return nil
	}, nil)
	return first, err
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return hasErrorCode(err, "NoSuchKey", "NotFound")
}

func isPreconditionFailed(err error) bool {
	return hasErrorCode(err, "PreconditionFailed", "ConditionalRequestConflict")
}

func hasErrorCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range codes {
		if ae.ErrorCode() == c {
			return true
		}
	}
	return false
}
