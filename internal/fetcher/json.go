package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// StreamJSONRecords streams the records of a bulk JSON export. The input is
// either a top-level array of records or a package object whose listKey
// member (for OCDS, "releases") holds them. Other package members are
// skipped. A package without listKey is itself the single record.
//
// Elements that are not objects, and empty objects, are dropped. Both
// channels are closed when processing completes.
func StreamJSONRecords(ctx context.Context, r io.Reader, listKey string) (<-chan map[string]any, <-chan error) {
	outCh := make(chan map[string]any, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		dec := json.NewDecoder(r)
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		switch tok {
		case json.Delim('['):
			err = streamRecords(ctx, dec, outCh)
		case json.Delim('{'):
			err = streamPackage(ctx, dec, listKey, outCh)
		default:
			err = eris.Errorf("json: expected an array or object, got %v", tok)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}

// streamPackage walks the members of an already opened object.
func streamPackage(ctx context.Context, dec *json.Decoder, listKey string, outCh chan<- map[string]any) error {
	members := make(map[string]any)
	found := false

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "json: read member name")
		}
		key, _ := tok.(string)

		if key == listKey && !found {
			open, err := dec.Token()
			if err != nil {
				return eris.Wrapf(err, "json: read %s", listKey)
			}
			if open != json.Delim('[') {
				return eris.Errorf("json: %s is not a list", listKey)
			}
			if err := streamRecords(ctx, dec, outCh); err != nil {
				return err
			}
			found = true
			continue
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return eris.Wrapf(err, "json: decode member %q", key)
		}
		if !found {
			members[key] = v
		}
	}
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "json: read closing token")
	}

	if found || len(members) == 0 {
		return nil
	}
	return send(ctx, outCh, members)
}

// streamRecords emits the object elements of an already opened array and
// consumes its closing bracket.
func streamRecords(ctx context.Context, dec *json.Decoder, outCh chan<- map[string]any) error {
	for dec.More() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: context cancelled")
		}

		var item any
		if err := dec.Decode(&item); err != nil {
			return eris.Wrap(err, "json: decode element")
		}
		rec, ok := item.(map[string]any)
		if !ok || len(rec) == 0 {
			continue
		}
		if err := send(ctx, outCh, rec); err != nil {
			return err
		}
	}

	// A truncated file ends without the bracket.
	if _, err := dec.Token(); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}

func send(ctx context.Context, outCh chan<- map[string]any, rec map[string]any) error {
	select {
	case outCh <- rec:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "json: context cancelled")
	}
}
