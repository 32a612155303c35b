// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package catalog

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

const s3Scheme = "s3://"

// Fetcher opens catalog inputs named by location: a local path, an http(s)
// URL, or s3://bucket/key. The S3 client is created on first use unless one
// is supplied.
type Fetcher struct {
	Region string

	mu sync.Mutex
	S3 s3iface.S3API
}

func (f *Fetcher) client() (s3iface.S3API, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.S3 != nil {
		return f.S3, nil
	}
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(f.Region)},
	)
	if err != nil {
		return nil, errors.Wrap(err, "getting new aws session")
	}
	f.S3 = s3.New(sess)
	return f.S3, nil
}

// Opener returns an Opener for location.
func (f *Fetcher) Opener(location string) lcdk.Opener {
	if bucket, key, ok := splitS3(location); ok {
		return &s3Opener{f: f, bucket: bucket, key: key}
	}
	return urlOpener(location)
}

// List returns Openers for every file directly under location whose base
// name satisfies match, sorted by name. location is a local directory or an
// s3://bucket/prefix.
func (f *Fetcher) List(location string, match func(base string) bool) ([]lcdk.Opener, error) {
	if bucket, prefix, ok := splitS3(location); ok {
		return f.listS3(bucket, prefix, match)
	}
	dirents, err := os.ReadDir(location)
	if err != nil {
		return nil, errors.Wrap(err, "reading directory")
	}
	ret := make([]lcdk.Opener, 0)
	for _, d := range dirents {
		if d.IsDir() || !match(d.Name()) {
			continue
		}
		ret = append(ret, urlOpener(filepath.Join(location, d.Name())))
	}
	return ret, nil
}

func (f *Fetcher) listS3(bucket, prefix string, match func(string) bool) ([]lcdk.Opener, error) {
	svc, err := f.client()
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys := make([]string, 0)
	err = svc.ListObjectsPages(&s3.ListObjectsInput{Bucket: aws.String(bucket), Prefix: aws.String(prefix)},
		func(page *s3.ListObjectsOutput, last bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				rest := strings.TrimPrefix(key, prefix)
				if rest == "" || strings.Contains(rest, "/") || !match(rest) {
					continue
				}
				keys = append(keys, key)
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing objects in %s", bucket)
	}
	sort.Strings(keys)
	ret := make([]lcdk.Opener, len(keys))
	for i, key := range keys {
		ret[i] = &s3Opener{f: f, bucket: bucket, key: key}
	}
	return ret, nil
}

// splitS3 splits s3://bucket/key.
func splitS3(location string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(location, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(location, s3Scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], "", true
	}
	return parts[0], parts[1], true
}

// urlOpener turns a URL or file (string) into an Opener.
type urlOpener string

func (u urlOpener) Open() (io.ReadCloser, error) {
	url := string(u)
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := http.Get(url)
		if err != nil {
			return nil, errors.Wrap(err, "getting via http")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Errorf("getting via http: status %s", resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(url)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

func (u urlOpener) String() string {
	return string(u)
}

type s3Opener struct {
	f      *Fetcher
	bucket string
	key    string
}

func (o *s3Opener) Open() (io.ReadCloser, error) {
	svc, err := o.f.client()
	if err != nil {
		return nil, err
	}
	result, err := svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", o.key)
	}
	return result.Body, nil
}

func (o *s3Opener) String() string {
	return s3Scheme + o.bucket + "/" + o.key
}
