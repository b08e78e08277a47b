package indexer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"bridgewatch/internal/codec"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

// DecodeSummary counts the results of an offline decode run.
type DecodeSummary struct {
	Lines   int
	Events  int
	Decoded int
	Skipped int
	Failed  int
}

// DecodeFile decodes captured frames, one per line. A line is either a
// subscription notification or account-block JSON (one block or a list).
// Transactions go to out and failures to errs.
func DecodeFile(ctx context.Context, in io.Reader, decoder *codec.Decoder, bridge string, out, errs *storage.JSONLWriter) (DecodeSummary, error) {
	var summary DecodeSummary

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		summary.Lines++

		blocks, err := parseCapturedLine(line)
		if err != nil {
			summary.Failed++
			if err := errs.Append(model.DecodeError{Error: err.Error()}); err != nil {
				return summary, err
			}
			continue
		}

		for _, event := range codec.ExtractEvents(blocks, bridge) {
			summary.Events++
			if !decoder.CanDecode(event.Data) {
				summary.Skipped++
				continue
			}
			tx, err := decoder.Decode(event)
			switch {
			case errors.Is(err, codec.ErrSkip):
				summary.Skipped++
			case err != nil:
				summary.Failed++
				if err := errs.Append(buildDecodeError(event, err)); err != nil {
					return summary, err
				}
			default:
				if err := out.Append(tx.Record()); err != nil {
					return summary, err
				}
				summary.Decoded++
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("scan input: %w", err)
	}
	return summary, nil
}

func parseCapturedLine(line []byte) ([]model.AccountBlock, error) {
	if line[0] == '[' {
		return codec.ParseBlocks(line)
	}
	_, blocks, err := codec.ParseNotification(line)
	if err == nil {
		return blocks, nil
	}
	if !errors.Is(err, codec.ErrNotNotification) {
		return nil, err
	}
	return codec.ParseBlocks(line)
}
