package sequence

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
)

// Record is one FASTA entry with normalized residues.
type Record struct {
	ID  string
	Seq string
}

// ReadFasta parses FASTA records from r. Input without a header is read as a
// single anonymous record so plain sequence files also load.
func ReadFasta(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '>' && trimmed[0] != '@' {
		return []Record{{ID: "seq1", Seq: Normalize(string(trimmed))}}, nil
	}

	// seq.Unlimit skips alphabet validation; Normalize decides what survives.
	reader, err := fastx.NewReaderFromIO(seq.Unlimit, bytes.NewReader(trimmed), "")
	if err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	defer reader.Close()

	var records []Record
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read fasta: %w", err)
		}
		records = append(records, Record{
			ID:  string(record.ID),
			Seq: Normalize(string(record.Seq.Seq)),
		})
	}

	for i := range records {
		if records[i].ID == "" {
			records[i].ID = fmt.Sprintf("seq%d", i+1)
		}
	}
	return records, nil
}
