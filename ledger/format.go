package ledger

import (
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidMetadata = errors.New("invalid ledger metadata")

// metadata wire fields
const (
	fieldQuorumSize     protowire.Number = 1
	fieldEnsembleSize   protowire.Number = 2
	fieldLength         protowire.Number = 3
	fieldLastEntryID    protowire.Number = 4
	fieldState          protowire.Number = 5
	fieldSegment        protowire.Number = 6
	fieldDigestType     protowire.Number = 7
	fieldPassword       protowire.Number = 8
	fieldAckQuorumSize  protowire.Number = 9
	fieldCreationTime   protowire.Number = 10
	fieldCustomMetadata protowire.Number = 11

	fieldSegmentEnsembleMember protowire.Number = 1
	fieldSegmentFirstEntryID   protowire.Number = 2

	fieldCustomKey   protowire.Number = 1
	fieldCustomValue protowire.Number = 2
)

const requiredFields = 1<<fieldQuorumSize | 1<<fieldEnsembleSize | 1<<fieldLength | 1<<fieldState

func appendVarintField(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// EncodeMetadata serializes m using the protobuf wire format.
func EncodeMetadata(m Metadata) []byte {
	var b []byte
	b = appendVarintField(b, fieldQuorumSize, int64(m.QuorumSize))
	b = appendVarintField(b, fieldEnsembleSize, int64(m.EnsembleSize))
	b = appendVarintField(b, fieldLength, m.Length)
	b = appendVarintField(b, fieldLastEntryID, m.LastEntryID)
	state := m.State
	if state == 0 {
		state = StateOpen
	}
	b = appendVarintField(b, fieldState, int64(state))
	for _, segment := range m.Segments {
		var inner []byte
		for _, member := range segment.Ensemble {
			inner = protowire.AppendTag(inner, fieldSegmentEnsembleMember, protowire.BytesType)
			inner = protowire.AppendString(inner, member)
		}
		inner = appendVarintField(inner, fieldSegmentFirstEntryID, segment.FirstEntryID)
		b = protowire.AppendTag(b, fieldSegment, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	if m.DigestType != 0 {
		b = appendVarintField(b, fieldDigestType, int64(m.DigestType))
	}
	if m.Password != nil {
		b = protowire.AppendTag(b, fieldPassword, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Password)
	}
	if m.AckQuorumSize != 0 {
		b = appendVarintField(b, fieldAckQuorumSize, int64(m.AckQuorumSize))
	}
	if m.CreationTime != 0 {
		b = appendVarintField(b, fieldCreationTime, m.CreationTime)
	}
	keys := make([]string, 0, len(m.CustomMetadata))
	for key := range m.CustomMetadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var inner []byte
		inner = protowire.AppendTag(inner, fieldCustomKey, protowire.BytesType)
		inner = protowire.AppendString(inner, key)
		inner = protowire.AppendTag(inner, fieldCustomValue, protowire.BytesType)
		inner = protowire.AppendBytes(inner, m.CustomMetadata[key])
		b = protowire.AppendTag(b, fieldCustomMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldQuorumSize, fieldEnsembleSize, fieldLength, fieldLastEntryID, fieldState,
		fieldDigestType, fieldAckQuorumSize, fieldCreationTime:
		return true
	}
	return false
}

func parseError(n int) error {
	return errors.Wrap(ErrInvalidMetadata, protowire.ParseError(n).Error())
}

// DecodeMetadata parses a buffer produced by EncodeMetadata. Unknown fields are skipped.
func DecodeMetadata(b []byte) (Metadata, error) {
	m := Metadata{}
	var seen uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Metadata{}, parseError(n)
		}
		b = b[n:]
		if num < 64 {
			seen |= 1 << num
		}
		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metadata{}, parseError(n)
			}
			b = b[n:]
			switch num {
			case fieldQuorumSize:
				m.QuorumSize = int32(v)
			case fieldEnsembleSize:
				m.EnsembleSize = int32(v)
			case fieldLength:
				m.Length = int64(v)
			case fieldLastEntryID:
				m.LastEntryID = int64(v)
			case fieldState:
				m.State = State(v)
			case fieldDigestType:
				m.DigestType = DigestType(v)
			case fieldAckQuorumSize:
				m.AckQuorumSize = int32(v)
			case fieldCreationTime:
				m.CreationTime = int64(v)
			}
		case typ == protowire.BytesType && num == fieldSegment:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metadata{}, parseError(n)
			}
			b = b[n:]
			segment, err := decodeSegment(v)
			if err != nil {
				return Metadata{}, err
			}
			m.Segments = append(m.Segments, segment)
		case typ == protowire.BytesType && num == fieldPassword:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metadata{}, parseError(n)
			}
			b = b[n:]
			m.Password = append([]byte{}, v...)
		case typ == protowire.BytesType && num == fieldCustomMetadata:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metadata{}, parseError(n)
			}
			b = b[n:]
			key, value, err := decodeCustomMetadata(v)
			if err != nil {
				return Metadata{}, err
			}
			if m.CustomMetadata == nil {
				m.CustomMetadata = map[string][]byte{}
			}
			m.CustomMetadata[key] = value
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Metadata{}, parseError(n)
			}
			b = b[n:]
		}
	}
	if seen&requiredFields != requiredFields {
		return Metadata{}, errors.Wrap(ErrInvalidMetadata, "missing required field")
	}
	return m, nil
}

func decodeSegment(b []byte) (Segment, error) {
	segment := Segment{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Segment{}, parseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldSegmentEnsembleMember && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Segment{}, parseError(n)
			}
			b = b[n:]
			segment.Ensemble = append(segment.Ensemble, v)
		case num == fieldSegmentFirstEntryID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Segment{}, parseError(n)
			}
			b = b[n:]
			segment.FirstEntryID = int64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Segment{}, parseError(n)
			}
			b = b[n:]
		}
	}
	return segment, nil
}

func decodeCustomMetadata(b []byte) (string, []byte, error) {
	var key string
	var value []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, parseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldCustomKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", nil, parseError(n)
			}
			b = b[n:]
			key = v
		case num == fieldCustomValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, parseError(n)
			}
			b = b[n:]
			value = append([]byte{}, v...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, parseError(n)
			}
			b = b[n:]
		}
	}
	return key, value, nil
}
