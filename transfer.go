package holdfast

import (
	"context"
)

func (c *client) Upload(ctx context.Context, path string, opts UploadOptions) *Response {
	field := opts.Field
	if field == "" {
		field = "file"
	}

	env, err := c.transport.Upload(ctx, path, field, opts.FileName, opts.File, opts.Size, opts.Fields, opts.Progress)
	if err != nil {
		clf := c.classifier
		if opts.Silent {
			clf = clf.Quiet()
		}
		out := outcomeFor(clf, err, 1)
		return &Response{Success: false, Message: out.Message}
	}

	return &Response{Success: env.Success, Data: env.Data, Message: env.Message}
}

func (c *client) Download(ctx context.Context, path, destPath string) error {
	if err := c.transport.Download(ctx, path, destPath); err != nil {
		outcomeFor(c.classifier, err, 1)
		return err
	}
	return nil
}
