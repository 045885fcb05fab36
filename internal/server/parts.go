package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/ccfrost/guestdrive/internal/apperr"
)

// maxFieldBytes caps non-file form values.
const maxFieldBytes = 64 * 1024

// Part is one multipart field or file, fully read.
type Part struct {
	FormName string
	// FileName is empty for plain form fields.
	FileName    string
	ContentType string
	Data        []byte
}

func (p Part) IsFile() bool {
	return p.FileName != ""
}

// Parts iterates over the multipart body of r, reading one part at a time.
// File parts larger than maxFileBytes end the sequence with a size limit
// error. Iteration stops after the first error.
func Parts(r *http.Request, maxFileBytes int64) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		mr, err := multipartReader(r)
		if err != nil {
			yield(Part{}, err)
			return
		}
		for {
			p, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					yield(Part{}, apperr.SizeLimitf("request body is larger than %d bytes", maxErr.Limit))
					return
				}
				yield(Part{}, apperr.Validationf("malformed multipart body: %v", err))
				return
			}

			part, err := readPart(p, maxFileBytes)
			p.Close()
			if !yield(part, err) || err != nil {
				return
			}
		}
	}
}

func multipartReader(r *http.Request) (*multipart.Reader, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, apperr.Validationf("expected a multipart/form-data body")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, apperr.Validationf("multipart body has no boundary")
	}
	return multipart.NewReader(r.Body, boundary), nil
}

func readPart(p *multipart.Part, maxFileBytes int64) (Part, error) {
	part := Part{
		FormName:    p.FormName(),
		FileName:    p.FileName(),
		ContentType: p.Header.Get("Content-Type"),
	}

	limit := int64(maxFieldBytes)
	if part.IsFile() {
		limit = maxFileBytes
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(p, limit+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return part, apperr.SizeLimitf("request body is larger than %d bytes", maxErr.Limit)
		}
		return part, fmt.Errorf("failed to read part %q: %w", part.FormName, err)
	}
	if n > limit {
		if part.IsFile() {
			return part, apperr.SizeLimitf("each file may be at most %s", humanBytes(maxFileBytes))
		}
		return part, apperr.Validationf("form field %q is too long", part.FormName)
	}
	part.Data = buf.Bytes()
	return part, nil
}

func humanBytes(n int64) string {
	const mib = 1024 * 1024
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
