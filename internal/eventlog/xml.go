package eventlog

import (
	"encoding/xml"
	"fmt"
	"io"
)

// DefaultExportLimit is the number of most-recent events exported when the
// caller does not specify a limit.
const DefaultExportLimit = 50

// xmlTimestampLayout is the timestamp format used in exported documents.
const xmlTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ExportOptions narrows an XML export.
type ExportOptions struct {
	// Types filters to the listed event types. Empty means all types.
	Types []Type

	// Limit truncates to the most recent N events. <= 0 means
	// [DefaultExportLimit].
	Limit int
}

// ExportXML writes the filtered log as an XML document to w:
//
//	<events count="2">
//	  <event id="…" type="thought" timestamp="2026-01-02T15:04:05.000Z" source="loop">
//	    <payload>
//	      <text>…</text>
//	    </payload>
//	  </event>
//	  …
//	</events>
//
// Events appear in chronological order. The payload element's children are
// defined by the payload variant's xml struct tags.
func (l *Log) ExportXML(w io.Writer, opts ExportOptions) error {
	events := l.Filter(opts.Types, opts.Limit)

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "events"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "count"}, Value: fmt.Sprintf("%d", len(events))},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return fmt.Errorf("eventlog: encode root: %w", err)
	}

	for _, ev := range events {
		if err := encodeEvent(enc, ev); err != nil {
			return fmt.Errorf("eventlog: encode event %s: %w", ev.ID, err)
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("eventlog: encode root end: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("eventlog: flush: %w", err)
	}
	return nil
}

// encodeEvent writes one <event> element wrapping its payload.
func encodeEvent(enc *xml.Encoder, ev Event) error {
	start := xml.StartElement{
		Name: xml.Name{Local: "event"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: ev.ID},
			{Name: xml.Name{Local: "type"}, Value: string(ev.Type)},
			{Name: xml.Name{Local: "timestamp"}, Value: ev.Timestamp.Format(xmlTimestampLayout)},
			{Name: xml.Name{Local: "source"}, Value: ev.Source},
		},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if ev.Payload != nil {
		payloadElem := xml.StartElement{Name: xml.Name{Local: "payload"}}
		if err := enc.EncodeElement(ev.Payload, payloadElem); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
