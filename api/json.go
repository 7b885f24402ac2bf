package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/pkg/errors"
)

const maxErrorBody = 512

// DoJSON encodes in (when non-nil) as the body, sends the call and decodes a
// 2xx answer into out (when non-nil). Other statuses become a *errors.StatusError
// carrying a localized message.
func (d *Dispatcher) DoJSON(ctx context.Context, method, endpoint string, in, out any) error {
	opts := Options{Method: method}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "[Dispatcher.DoJSON] encoding %s body", endpoint)
		}
		opts.Body = body
	}

	resp, err := d.Do(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.NewUserError(d.printer.HTTPError(resp.StatusCode),
			&errs.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errs.NewUserError(d.printer.InvalidResponse(), errors.Wrap(errs.ErrUnrecognizedResponse, err.Error()))
	}
	return nil
}
