package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JonMunkholm/fieldexport/internal/projection"
)

// utf8BOM makes spreadsheet applications detect UTF-8 CSV files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// tableWriter streams one table to an io.Writer.
type tableWriter interface {
	WriteHeader(header []string) error
	WriteRow(row projection.Row) error
	// Close writes any trailing framing and performs the final flush.
	Close() error
	Flushes() int
	PeakBuffered() int
}

func newTableWriter(f Format, w io.Writer, cfg Config) tableWriter {
	if f == FormatJSON {
		return newJSONWriter(w, cfg.JSONChunkBytes)
	}
	return newCSVWriter(w, cfg.CSVChunkRows)
}

// csvWriter flushes every chunkRows rows.
type csvWriter struct {
	out       io.Writer
	w         *csv.Writer
	chunkRows int
	pending   int
	flushes   int
	peak      int
}

func newCSVWriter(out io.Writer, chunkRows int) *csvWriter {
	return &csvWriter{out: out, w: csv.NewWriter(out), chunkRows: chunkRows}
}

func (c *csvWriter) WriteHeader(header []string) error {
	if _, err := c.out.Write(utf8BOM); err != nil {
		return err
	}
	return c.w.Write(header)
}

func (c *csvWriter) WriteRow(row projection.Row) error {
	cells, ok := row.(projection.PositionalRow)
	if !ok {
		return fmt.Errorf("csv writer got %T row", row)
	}
	if err := c.w.Write(cells); err != nil {
		return err
	}
	c.pending++
	if c.pending >= c.chunkRows {
		return c.flush()
	}
	return nil
}

func (c *csvWriter) flush() error {
	if c.pending > c.peak {
		c.peak = c.pending
	}
	c.w.Flush()
	c.flushes++
	c.pending = 0
	return c.w.Error()
}

func (c *csvWriter) Close() error {
	if c.pending == 0 {
		c.w.Flush()
		return c.w.Error()
	}
	return c.flush()
}

func (c *csvWriter) Flushes() int      { return c.flushes }
func (c *csvWriter) PeakBuffered() int { return c.peak }

// jsonWriter frames rows as {"data": [ ... ]} and flushes whenever the
// buffer reaches chunkBytes. Commas are placed from the running row count,
// so the array is never held in memory.
type jsonWriter struct {
	out        io.Writer
	buf        bytes.Buffer
	chunkBytes int
	rows       int
	flushes    int
	peak       int
}

func newJSONWriter(out io.Writer, chunkBytes int) *jsonWriter {
	return &jsonWriter{out: out, chunkBytes: chunkBytes}
}

func (j *jsonWriter) WriteHeader([]string) error {
	j.buf.WriteString(`{"data": [`)
	return nil
}

func (j *jsonWriter) WriteRow(row projection.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if j.rows > 0 {
		j.buf.WriteByte(',')
	}
	j.buf.Write(data)
	j.rows++
	if j.buf.Len() >= j.chunkBytes {
		return j.flush()
	}
	return nil
}

func (j *jsonWriter) flush() error {
	if j.buf.Len() > j.peak {
		j.peak = j.buf.Len()
	}
	_, err := j.out.Write(j.buf.Bytes())
	j.buf.Reset()
	j.flushes++
	return err
}

func (j *jsonWriter) Close() error {
	j.buf.WriteString("]}")
	return j.flush()
}

func (j *jsonWriter) Flushes() int      { return j.flushes }
func (j *jsonWriter) PeakBuffered() int { return j.peak }
