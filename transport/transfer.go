package transport

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
)

// ProgressFunc reports transfer progress. total is -1 when unknown.
type ProgressFunc func(written, total int64)

// progressReader counts bytes as they are consumed and reports them to
// the callback.
type progressReader struct {
	r        io.Reader
	total    int64
	written  int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.written += int64(n)
		if p.progress != nil {
			p.progress(p.written, p.total)
		}
	}
	return n, err
}

// Upload sends file as a multipart form to path, along with any extra
// form fields. It is a single attempt: multipart payloads are never
// re-enqueued, so there is no retry path here. size is the file's byte
// count, or -1 if unknown; it is only used for progress reporting.
func (c *Client) Upload(ctx context.Context, path, fieldName, fileName string, file io.Reader, size int64, fields map[string]string, progress ProgressFunc) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()

		for k, v := range fields {
			if err := writer.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		part, err := writer.CreateFormFile(fieldName, fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		src := io.Reader(file)
		if progress != nil {
			src = &progressReader{r: file, total: size, progress: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.CloseWithError(writer.Close())
	}()

	u := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.addDefaultHeaders(req)

	c.logger.Debug("upload", "url", u, "file", fileName)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{Code: res.StatusCode, Body: decodeErrorBody(raw)}
	}

	return decodeEnvelope(raw)
}

// Download fetches path and writes the raw body to destPath. The write
// goes through a temporary file and a rename so an interrupted download
// never leaves a truncated file at the destination.
func (c *Client) Download(ctx context.Context, path, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.addDefaultHeaders(req)

	c.logger.Debug("download", "url", u, "dest", destPath)

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return &StatusError{Code: res.StatusCode, Body: decodeErrorBody(raw)}
	}

	tmp := destPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}

	if _, err := io.Copy(out, res.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing download: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing download file: %w", err)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing download: %w", err)
	}

	return nil
}
