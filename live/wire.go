package live

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// The comment server speaks UTF-8 XML fragments terminated by a single
// NUL byte over a plaintext TCP stream. One read may carry any number of
// complete fragments plus the head of the next one.

// frameSplitter accumulates raw socket reads and yields complete
// NUL-terminated frames. Not safe for concurrent use; the read loop owns it.
type frameSplitter struct {
	pending []byte
}

// split appends chunk to the pending buffer and returns every complete
// frame, NUL terminator stripped. Empty frames are dropped.
func (s *frameSplitter) split(chunk []byte) [][]byte {
	s.pending = append(s.pending, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(s.pending, 0)
		if i < 0 {
			return frames
		}
		if i > 0 {
			frame := make([]byte, i)
			copy(frame, s.pending[:i])
			frames = append(frames, frame)
		}
		s.pending = s.pending[i+1:]
	}
}

// threadFrame is the server's response to a subscribe frame. The ticket
// it carries authorizes subsequent post frames.
type threadFrame struct {
	XMLName    xml.Name `xml:"thread"`
	Ticket     string   `xml:"ticket,attr"`
	Thread     string   `xml:"thread,attr"`
	LastRes    int      `xml:"last_res,attr"`
	ResultCode int      `xml:"resultcode,attr"`
}

// chatFrame is a single comment as it appears on the wire.
type chatFrame struct {
	XMLName   xml.Name `xml:"chat"`
	Thread    string   `xml:"thread,attr"`
	VPos      string   `xml:"vpos,attr"`
	Date      string   `xml:"date,attr"`
	Mail      string   `xml:"mail,attr"`
	UserID    string   `xml:"user_id,attr"`
	Premium   string   `xml:"premium,attr"`
	Anonymity string   `xml:"anonymity,attr"`
	Score     string   `xml:"score,attr"`
	Locale    string   `xml:"locale,attr"`
	YourPost  string   `xml:"yourpost,attr"`
	Text      string   `xml:",chardata"`
}

// chatResultFrame reports the outcome of a post frame and echoes the
// posted chat.
type chatResultFrame struct {
	XMLName xml.Name  `xml:"chat_result"`
	Status  string    `xml:"status,attr"`
	Chat    chatFrame `xml:"chat"`
}

// decodeFrame parses one wire frame into a *threadFrame, *chatFrame or
// *chatResultFrame. Frames with an unrecognized root element decode to
// (nil, nil) and are skipped by the caller.
func decodeFrame(frame []byte) (interface{}, error) {
	root := rootName(frame)
	switch root {
	case "thread":
		var f threadFrame
		if err := xml.Unmarshal(frame, &f); err != nil {
			return nil, fmt.Errorf("decode thread frame: %w", err)
		}
		return &f, nil
	case "chat":
		var f chatFrame
		if err := xml.Unmarshal(frame, &f); err != nil {
			return nil, fmt.Errorf("decode chat frame: %w", err)
		}
		return &f, nil
	case "chat_result":
		var f chatResultFrame
		if err := xml.Unmarshal(frame, &f); err != nil {
			return nil, fmt.Errorf("decode chat_result frame: %w", err)
		}
		return &f, nil
	default:
		return nil, nil
	}
}

// rootName extracts the root element name without a full parse.
func rootName(frame []byte) string {
	i := bytes.IndexByte(frame, '<')
	if i < 0 {
		return ""
	}
	rest := frame[i+1:]
	end := bytes.IndexAny(rest, " \t\r\n/>")
	if end < 0 {
		return ""
	}
	return string(rest[:end])
}

// subscribeFrame builds the outgoing thread subscription frame.
// resFrom is the number of backlog comments requested on connect.
func subscribeFrame(threadID string, resFrom int) []byte {
	frame := fmt.Sprintf(`<thread thread="%s" version="20061206" res_from="-%d"/>`,
		escapeAttr(threadID), resFrom)
	return append([]byte(frame), 0)
}

// postFrame builds the outgoing chat post frame.
func postFrame(threadID, ticket, postKey, tags, userID string, isPremium bool, text string) []byte {
	premium := 0
	if isPremium {
		premium = 1
	}
	frame := fmt.Sprintf(`<chat thread="%s" ticket="%s" postkey="%s" mail="%s" user_id="%s" premium="%d">%s</chat>`,
		escapeAttr(threadID), escapeAttr(ticket), escapeAttr(postKey),
		escapeAttr(tags), escapeAttr(userID), premium, escapeText(text))
	return append([]byte(frame), 0)
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// escapeText encodes comment text for embedding as element content.
// The server and decodeFrame both undo this encoding, so a posted
// comment echoes back with its original text.
func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }

// atoi is a forgiving strconv.Atoi; malformed and missing attributes
// read as zero, matching how the wire format treats them.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
