package store

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// A S3 store reads payload files kept in an AWS S3 bucket. It is read only:
// bags are built from S3, never written into it.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string

	m     sync.Mutex
	sizes map[string]int64 // keep HEAD info
}

var (
	// make sure S3 implements the ROStore interface
	_ ROStore = &S3{}
)

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. For example if prefix were "scans/" then an
// Open("0001.tif") would look for the key "scans/0001.tif" in the bucket. The
// authorization method and credentials in the session are used for all
// accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
		sizes:  make(map[string]int64),
	}
}

// List returns a list of all the keys in this store. It will only return ones
// that satisfy the store's Prefix, so it is safe to use this on a bucket
// containing other items.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := s.list("", func(key string, size int64) {
			out <- key
		})
		if err != nil {
			log.WithFields(log.Fields{"bucket": s.Bucket, "prefix": s.Prefix, "err": err}).Error("S3 List")
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given prefix.
// The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	err := s.list(prefix, func(key string, size int64) {
		result = append(result, key)
	})
	if err != nil {
		log.WithFields(log.Fields{"bucket": s.Bucket, "prefix": s.Prefix + prefix, "err": err}).Error("S3 ListPrefix")
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// list pages through the bucket listing. Object sizes are remembered so
// a later Open does not need a HEAD request. Keys ending in a slash are
// directory markers and are skipped.
func (s *S3) list(prefix string, fn func(key string, size int64)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	return s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				key := strings.TrimPrefix(aws.StringValue(item.Key), s.Prefix)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				size := aws.Int64Value(item.Size)
				s.setSize(key, size)
				fn(key, size)
			}
			return !lastpage
		})
}

// Open returns a ReadAtCloser for the given key. Content is fetched with
// range requests, one chunk at a time, which suits reading it from start to
// end with NewReader.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	obj := &s3Object{size: size}
	obj.fetch = func(start, end int64) ([]byte, error) {
		return s.getRange(key, start, end)
	}
	return obj, size, nil
}

func (s *S3) setSize(key string, size int64) {
	s.m.Lock()
	s.sizes[key] = size
	s.m.Unlock()
}

// stat will check if a key exists, and if so it returns the size. If the item
// does not exist an error wrapping ErrNotExist is returned. The prefix is
// added to the key before checking.
func (s *S3) stat(key string) (int64, error) {
	// Cache the key sizes as we see them. This drastically cuts down on the
	// number of HEAD requests.
	s.m.Lock()
	size, ok := s.sizes[key]
	s.m.Unlock()
	if ok {
		return size, nil
	}
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	info, err := s.svc.HeadObject(input)
	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
		return 0, errors.Wrap(ErrNotExist, key)
	} else if err != nil {
		return 0, err
	}
	size = aws.Int64Value(info.ContentLength)
	s.setSize(key, size)
	return size, nil
}

// getRange reads the bytes from start up to but not including end.
func (s *S3) getRange(key string, start, end int64) ([]byte, error) {
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
		return nil, io.EOF
	} else if err != nil {
		log.WithFields(log.Fields{"bucket": s.Bucket, "key": key, "start": start, "err": err}).Error("S3 GetObject")
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key})
		return nil, err
	}
	defer output.Body.Close()
	// TODO: retry the range request on transient transmission errors
	return ioutil.ReadAll(output.Body)
}

// chunkSize is how much of an object is fetched per request.
const chunkSize = 8 * 1024 * 1024

// s3Object reads an object through a window holding the last chunk
// fetched. It is not safe for concurrent use.
type s3Object struct {
	size  int64
	fetch func(start, end int64) ([]byte, error)

	start  int64  // offset of window
	window []byte // last chunk fetched
}

func (obj *s3Object) ReadAt(p []byte, offset int64) (int, error) {
	var n int
	for n < len(p) && offset < obj.size {
		if offset < obj.start || offset >= obj.start+int64(len(obj.window)) {
			end := offset + chunkSize
			if end > obj.size {
				end = obj.size
			}
			data, err := obj.fetch(offset, end)
			if err != nil {
				return n, err
			} else if len(data) == 0 {
				return n, io.ErrUnexpectedEOF
			}
			obj.start, obj.window = offset, data
		}
		c := copy(p[n:], obj.window[offset-obj.start:])
		n += c
		offset += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (obj *s3Object) Close() error {
	obj.window = nil
	return nil
}
