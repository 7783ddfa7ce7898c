package models

import "strings"

// RefKind discriminates how a message is identified.
type RefKind int

const (
	// RefConfirmed ids are assigned by the remote store and authoritative.
	RefConfirmed RefKind = iota
	// RefProvisionalText ids are local, minted for an optimistic text send.
	RefProvisionalText
	// RefProvisionalAttachment ids are local, minted for an optimistic
	// attachment send. Kept distinct so the merger can apply
	// attachment-specific matching rules.
	RefProvisionalAttachment
)

// Wire prefixes for provisional ids. The tagged MessageRef is the source of
// truth inside the engine; the prefixes only exist so provisional entries
// remain distinguishable in rendered ids and store emulators.
const (
	provisionalTextPrefix       = "temp-"
	provisionalAttachmentPrefix = "temp-file-"
)

// MessageRef is a tagged message identity: either a confirmed remote id or
// one of the two provisional id spaces.
type MessageRef struct {
	Kind RefKind
	ID   string
}

// ConfirmedRef wraps a store-assigned id.
func ConfirmedRef(id string) MessageRef {
	return MessageRef{Kind: RefConfirmed, ID: id}
}

// ProvisionalTextRef builds a provisional text-send ref from a local unique
// suffix.
func ProvisionalTextRef(suffix string) MessageRef {
	return MessageRef{Kind: RefProvisionalText, ID: provisionalTextPrefix + suffix}
}

// ProvisionalAttachmentRef builds a provisional attachment-send ref from a
// local unique suffix.
func ProvisionalAttachmentRef(suffix string) MessageRef {
	return MessageRef{Kind: RefProvisionalAttachment, ID: provisionalAttachmentPrefix + suffix}
}

// ParseRef classifies a raw id string. Rows from the store always parse as
// confirmed unless they carry a provisional prefix, which only happens when
// replaying ids the engine minted itself.
func ParseRef(id string) MessageRef {
	switch {
	case strings.HasPrefix(id, provisionalAttachmentPrefix):
		return MessageRef{Kind: RefProvisionalAttachment, ID: id}
	case strings.HasPrefix(id, provisionalTextPrefix):
		return MessageRef{Kind: RefProvisionalText, ID: id}
	default:
		return MessageRef{Kind: RefConfirmed, ID: id}
	}
}

// Provisional reports whether the ref is in either provisional id space.
func (r MessageRef) Provisional() bool {
	return r.Kind == RefProvisionalText || r.Kind == RefProvisionalAttachment
}

func (r MessageRef) String() string {
	return r.ID
}
