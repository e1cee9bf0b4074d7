// Package wire defines the RFB wire protocol: message type identifiers,
// encoding identifiers, and the big-endian struct layouts exchanged on the
// reliable stream, per SPEC_FULL.md §6.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
)

// ProtocolVersion strings, fixed 12-byte ASCII records terminated by '\n'.
const (
	Version33 = "RFB 003.003\n"
	Version37 = "RFB 003.007\n"
	Version38 = "RFB 003.008\n"
)

// NegotiateVersion maps a client's advertised minor version to the server's
// chosen version string, per §6: >=8 => 3.8; 7 => 3.7; 4..6 and <=3 => 3.3.
// It operates on the minor number already extracted by ParseClientVersion.
func NegotiateVersion(clientMinor int) string {
	switch {
	case clientMinor >= 8:
		return Version38
	case clientMinor == 7:
		return Version37
	default:
		return Version33
	}
}

// ParseClientVersion parses a 12-byte ProtocolVersion record of the form
// "RFB 00<major>.00<minor>\n" and returns the client's advertised minor
// version number.
func ParseClientVersion(b []byte) (minor int, err error) {
	if len(b) != 12 || string(b[0:4]) != "RFB " || b[7] != '.' || b[11] != '\n' {
		return 0, fmt.Errorf("wire: malformed protocol version record %q", b)
	}
	var n, convErr = strconv.Atoi(string(b[8:11]))
	if convErr != nil {
		return 0, fmt.Errorf("wire: malformed minor version %q", b[8:11])
	}
	return n, nil
}

// NegotiatedMinor maps a client's advertised minor version to the server's
// effective protocol minor, per the same boundary rule as NegotiateVersion:
// >=8 => 8; 7 => 7; else (4..6 and <=3) => 3.
func NegotiatedMinor(clientMinor int) int {
	switch {
	case clientMinor >= 8:
		return 8
	case clientMinor == 7:
		return 7
	default:
		return 3
	}
}

// Client-to-server message type bytes (§6).
const (
	MsgSetPixelFormat        byte = 0
	MsgFixColourMapEntries   byte = 1
	MsgSetEncodings          byte = 2
	MsgFramebufferUpdateReq  byte = 3
	MsgKeyEvent              byte = 4
	MsgPointerEvent          byte = 5
	MsgClientCutText         byte = 6
	MsgFramebufferUpdateAck  byte = 127 // custom, carries u32 seqNum
)

// Server-to-client message type bytes.
const (
	MsgFramebufferUpdate   byte = 0
	MsgSetColourMapEntries byte = 1
	MsgBell                byte = 2
	MsgServerCutText       byte = 3
)

// Encoding identifiers, as negotiated via SetEncodings and advertised in
// InteractionCaps.
const (
	EncodingRaw            int32 = 0
	EncodingCopyRect       int32 = 1
	EncodingRRE            int32 = 2
	EncodingCoRRE          int32 = 4
	EncodingHextile        int32 = 5
	EncodingZlib           int32 = 6
	EncodingTight          int32 = 7
	EncodingCompressLevel0 int32 = -256 // pseudo-encoding base; level = -256-n
	EncodingQualityLevel0  int32 = -32  // pseudo-encoding base; level = -32-n
	EncodingXCursor        int32 = -240
	EncodingRichCursor     int32 = -239
	EncodingPointerPos     int32 = -232
	EncodingLastRect       int32 = -224
)

// NCaps is the number of capability records advertised in InteractionCaps
// (§6): CopyRect, RRE, CoRRE, Hextile, Zlib, Tight, CompressLevel0,
// QualityLevel0, XCursor, RichCursor, PointerPos, LastRect.
const NCaps = 12

// CapsEncodings lists, in advertisement order, the encoding identifiers
// carried by InteractionCaps.
var CapsEncodings = [NCaps]int32{
	EncodingCopyRect,
	EncodingRRE,
	EncodingCoRRE,
	EncodingHextile,
	EncodingZlib,
	EncodingTight,
	EncodingCompressLevel0,
	EncodingQualityLevel0,
	EncodingXCursor,
	EncodingRichCursor,
	EncodingPointerPos,
	EncodingLastRect,
}

// PixelFormat is the wire layout carried in ServerInit and SetPixelFormat.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    uint8
	TrueColour   uint8
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
	_            [3]uint8 // padding
}

// DefaultPixelFormat is the true-colour 32bpp format servers advertise by
// default in ServerInit.
var DefaultPixelFormat = PixelFormat{
	BitsPerPixel: 32,
	Depth:        24,
	BigEndian:    0,
	TrueColour:   1,
	RedMax:       255,
	GreenMax:     255,
	BlueMax:      255,
	RedShift:     16,
	GreenShift:   8,
	BlueShift:    0,
}

// WritePixelFormat writes pf in its 16-byte wire layout.
func WritePixelFormat(w io.Writer, pf PixelFormat) error {
	var buf [16]byte
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	buf[2] = pf.BigEndian
	buf[3] = pf.TrueColour
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	_, err := w.Write(buf[:])
	return err
}

// ReadPixelFormat reads a 16-byte wire PixelFormat.
func ReadPixelFormat(r io.Reader) (PixelFormat, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return PixelFormat{}, err
	}
	return PixelFormat{
		BitsPerPixel: buf[0],
		Depth:        buf[1],
		BigEndian:    buf[2],
		TrueColour:   buf[3],
		RedMax:       binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:     binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:      binary.BigEndian.Uint16(buf[8:10]),
		RedShift:     buf[10],
		GreenShift:   buf[11],
		BlueShift:    buf[12],
	}, nil
}

// ServerInit is the server's post-authentication handshake message: screen
// geometry, default pixel format, and the desktop name.
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}

// DesktopName formats the ServerInit name field per §6:
// "<user>'s <desktop> desktop (<host>:<display>)", with <desktop> truncated
// to 128 characters.
func DesktopName(user, desktop, host string, display int) string {
	if len(desktop) > 128 {
		desktop = desktop[:128]
	}
	return fmt.Sprintf("%s's %s desktop (%s:%d)", user, desktop, host, display)
}

// WriteServerInit writes si in its wire layout.
func WriteServerInit(w io.Writer, si ServerInit) error {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], si.Width)
	binary.BigEndian.PutUint16(hdr[2:4], si.Height)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if err := WritePixelFormat(w, si.PixelFormat); err != nil {
		return err
	}
	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(si.Name)))
	if _, err := w.Write(nameLen[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, si.Name)
	return err
}

// WriteInteractionCaps writes the 3.7t/3.8t capability advertisement:
// {u16 nSmsg, u16 nCmsg, u16 nEnc, u16 pad} followed by nEnc capability
// records, each a bare u32 encoding id (the source's rfbCapabilityInfo
// records a vendor/signature pair per encoding too; this implementation
// advertises identifiers only, sufficient for the clients this server
// targets to recognise them).
func WriteInteractionCaps(w io.Writer, nServerMsgs, nClientMsgs uint16) error {
	var hdr [8]byte
	binary.BigEndian.PutUint16(hdr[0:2], nServerMsgs)
	binary.BigEndian.PutUint16(hdr[2:4], nClientMsgs)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(NCaps))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, enc := range CapsEncodings {
		var rec [4]byte
		binary.BigEndian.PutUint32(rec[:], uint32(enc))
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// LastRectSentinel is the rect count value signalling that the update's
// rectangle sequence is terminated by a LastRect marker rather than a known
// count.
const LastRectSentinel uint16 = 0xFFFF

// UpdateHeader is the FramebufferUpdate message header.
type UpdateHeader struct {
	NRects  uint16
	EventID uint32
	SeqNum  uint32
}

// WriteUpdateHeader writes {u8 type, u8 pad, u16 nRects, u32 eventId, u32 seqNum}.
func WriteUpdateHeader(w io.Writer, h UpdateHeader) error {
	var buf [12]byte
	buf[0] = MsgFramebufferUpdate
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], h.NRects)
	binary.BigEndian.PutUint32(buf[4:8], h.EventID)
	binary.BigEndian.PutUint32(buf[8:12], h.SeqNum)
	_, err := w.Write(buf[:])
	return err
}

// RectHeader precedes every rectangle's encoding-specific body:
// {u16 x, u16 y, u16 w, u16 h, u32 encoding}.
type RectHeader struct {
	X, Y, W, H uint16
	Encoding   int32
}

// WriteRectHeader writes h's 12-byte wire form.
func WriteRectHeader(w io.Writer, h RectHeader) error {
	var buf [12]byte
	binary.BigEndian.PutUint16(buf[0:2], h.X)
	binary.BigEndian.PutUint16(buf[2:4], h.Y)
	binary.BigEndian.PutUint16(buf[4:6], h.W)
	binary.BigEndian.PutUint16(buf[6:8], h.H)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Encoding))
	_, err := w.Write(buf[:])
	return err
}

// LastRectHeader is the zero-sized rectangle with the LastRect encoding id
// that terminates a sentinel-counted update.
var LastRectHeader = RectHeader{Encoding: EncodingLastRect}

// CopyRectBody is the encoding-specific body following a CopyRect
// RectHeader: the source x/y the destination rect was copied from.
type CopyRectBody struct {
	SrcX, SrcY uint16
}

// WriteCopyRectBody writes b's 4-byte wire form.
func WriteCopyRectBody(w io.Writer, b CopyRectBody) error {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], b.SrcX)
	binary.BigEndian.PutUint16(buf[2:4], b.SrcY)
	_, err := w.Write(buf[:])
	return err
}

// Client-to-server message bodies (everything following the already-read
// message type byte) and their readers.

// SetPixelFormatMsg follows {u8 type}: {3 bytes padding, PixelFormat}.
type SetPixelFormatMsg struct {
	Format PixelFormat
}

func ReadSetPixelFormat(r io.Reader) (SetPixelFormatMsg, error) {
	var pad [3]byte
	if _, err := io.ReadFull(r, pad[:]); err != nil {
		return SetPixelFormatMsg{}, err
	}
	var pf, err = ReadPixelFormat(r)
	if err != nil {
		return SetPixelFormatMsg{}, err
	}
	return SetPixelFormatMsg{Format: pf}, nil
}

// SetEncodingsMsg follows {u8 type}: {1 byte padding, u16 nEncodings,
// nEncodings x i32 encoding}.
type SetEncodingsMsg struct {
	Encodings []int32
}

func ReadSetEncodings(r io.Reader) (SetEncodingsMsg, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return SetEncodingsMsg{}, err
	}
	var n = binary.BigEndian.Uint16(hdr[1:3])
	var out = make([]int32, n)
	var buf [4]byte
	for i := range out {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return SetEncodingsMsg{}, err
		}
		out[i] = int32(binary.BigEndian.Uint32(buf[:]))
	}
	return SetEncodingsMsg{Encodings: out}, nil
}

// FramebufferUpdateRequestMsg follows {u8 type}: {u8 incremental, u16 x, u16
// y, u16 w, u16 h}.
type FramebufferUpdateRequestMsg struct {
	Incremental bool
	X, Y, W, H  uint16
}

func ReadFramebufferUpdateRequest(r io.Reader) (FramebufferUpdateRequestMsg, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FramebufferUpdateRequestMsg{}, err
	}
	return FramebufferUpdateRequestMsg{
		Incremental: buf[0] != 0,
		X:           binary.BigEndian.Uint16(buf[1:3]),
		Y:           binary.BigEndian.Uint16(buf[3:5]),
		W:           binary.BigEndian.Uint16(buf[5:7]),
		H:           binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}

// KeyEventMsg follows {u8 type}: {u8 downFlag, 2 bytes padding, u32 key}.
type KeyEventMsg struct {
	Down bool
	Key  uint32
}

func ReadKeyEvent(r io.Reader) (KeyEventMsg, error) {
	var buf [7]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return KeyEventMsg{}, err
	}
	return KeyEventMsg{Down: buf[0] != 0, Key: binary.BigEndian.Uint32(buf[3:7])}, nil
}

// PointerEventMsg follows {u8 type}: {u8 buttonMask, u16 x, u16 y}.
type PointerEventMsg struct {
	ButtonMask uint8
	X, Y       uint16
}

func ReadPointerEvent(r io.Reader) (PointerEventMsg, error) {
	var buf [5]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return PointerEventMsg{}, err
	}
	return PointerEventMsg{
		ButtonMask: buf[0],
		X:          binary.BigEndian.Uint16(buf[1:3]),
		Y:          binary.BigEndian.Uint16(buf[3:5]),
	}, nil
}

// ClientCutTextMsg follows {u8 type}: {3 bytes padding, u32 length, length
// bytes of Latin-1 text}.
type ClientCutTextMsg struct {
	Text []byte
}

func ReadClientCutText(r io.Reader) (ClientCutTextMsg, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ClientCutTextMsg{}, err
	}
	var n = binary.BigEndian.Uint32(hdr[3:7])
	var text = make([]byte, n)
	if _, err := io.ReadFull(r, text); err != nil {
		return ClientCutTextMsg{}, err
	}
	return ClientCutTextMsg{Text: text}, nil
}

// FramebufferUpdateAckMsg follows {u8 type}: {u32 seqNum}. This is a
// non-standard extension message type (§6) acknowledging datagram-delivered
// updates so the Adaptive Controller can compute RTT samples.
type FramebufferUpdateAckMsg struct {
	SeqNum uint32
}

func ReadFramebufferUpdateAck(r io.Reader) (FramebufferUpdateAckMsg, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FramebufferUpdateAckMsg{}, err
	}
	return FramebufferUpdateAckMsg{SeqNum: binary.BigEndian.Uint32(buf[:])}, nil
}
