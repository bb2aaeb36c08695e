package objectstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/errs"
)

// ArtifactKind selects one row of the artifact policy table.
type ArtifactKind string

const (
	ArtifactPhoto     ArtifactKind = "photo"
	ArtifactSignature ArtifactKind = "signature"
	ArtifactDocument  ArtifactKind = "document"
)

// Policy is one artifact class: what may be uploaded, how big, and for how
// long the grant lives. All limits are enforced before a URL is signed.
type Policy struct {
	Kind         ArtifactKind
	MaxBytes     int64
	ContentTypes []string
	URLExpiry    time.Duration
}

const mib = 1 << 20

var policies = map[ArtifactKind]Policy{
	ArtifactPhoto: {
		Kind:         ArtifactPhoto,
		MaxBytes:     10 * mib,
		ContentTypes: []string{"image/jpeg", "image/png", "image/heic"},
		URLExpiry:    60 * time.Minute,
	},
	ArtifactSignature: {
		Kind:         ArtifactSignature,
		MaxBytes:     1 * mib,
		ContentTypes: []string{"image/png"},
		URLExpiry:    10 * time.Minute,
	},
	ArtifactDocument: {
		Kind:         ArtifactDocument,
		MaxBytes:     25 * mib,
		ContentTypes: []string{"application/pdf"},
		URLExpiry:    60 * time.Minute,
	},
}

// PolicyFor returns the policy for an artifact kind.
func PolicyFor(kind ArtifactKind) (Policy, error) {
	p, ok := policies[kind]
	if !ok {
		return Policy{}, errs.Newf(errs.CodeValidation, "unknown artifact kind %q", kind)
	}
	return p, nil
}

// Validate checks a declared upload against the policy before any URL is
// signed. Size is the client's declaration; S3 enforces the true ceiling at
// PUT time through the signed headers.
func (p Policy) Validate(contentType string, size int64) error {
	if size <= 0 || size > p.MaxBytes {
		return errs.Newf(errs.CodeValidation, "%s uploads are limited to %d bytes", p.Kind, p.MaxBytes)
	}
	for _, allowed := range p.ContentTypes {
		if contentType == allowed {
			return nil
		}
	}
	return errs.Newf(errs.CodeValidation, "content type %q not allowed for %s uploads", contentType, p.Kind)
}

var extByContentType = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/heic":      "heic",
	"application/pdf": "pdf",
}

// PhotoKey builds the canonical key for a visit photo. Keys embed the
// uploader so a compromised URL cannot be replayed into another user's
// prefix.
func PhotoKey(userID uuid.UUID, contentType string, now time.Time) string {
	return fmt.Sprintf("photos/%s/%d-%s.%s",
		userID, now.Unix(), uuid.New(), extByContentType[contentType])
}

// SignatureKind distinguishes the two signatures captured at check-out.
type SignatureKind string

const (
	SignatureClient    SignatureKind = "client"
	SignatureCaregiver SignatureKind = "caregiver"
)

// SignatureKey builds the canonical key for a check-out signature.
func SignatureKey(visitID uuid.UUID, kind SignatureKind, now time.Time) string {
	return fmt.Sprintf("visits/%s/signatures/%s-%d.png", visitID, kind, now.Unix())
}

// DocumentKey builds the canonical key for a care document. Like photos,
// documents are namespaced by the uploading user.
func DocumentKey(userID uuid.UUID, contentType string, now time.Time) string {
	return fmt.Sprintf("documents/%s/%d-%s.%s",
		userID, now.Unix(), uuid.New(), extByContentType[contentType])
}

var photoKeyRe = regexp.MustCompile(
	`^photos/[0-9a-f-]{36}/\d+-[0-9a-f-]{36}\.(jpg|png|heic)$`)

// ValidPhotoKey reports whether a client-supplied key matches the canonical
// photo layout and belongs to the given user. Attach requests quote keys
// back at the server, so the shape is re-checked rather than trusted.
func ValidPhotoKey(key string, userID uuid.UUID) bool {
	if !photoKeyRe.MatchString(key) {
		return false
	}
	return strings.HasPrefix(key, "photos/"+userID.String()+"/")
}

var signatureKeyRe = regexp.MustCompile(
	`^visits/[0-9a-f-]{36}/signatures/(client|caregiver)-\d+\.png$`)

// ValidSignatureKey reports whether a key matches the canonical signature
// layout for the given visit.
func ValidSignatureKey(key string, visitID uuid.UUID) bool {
	if !signatureKeyRe.MatchString(key) {
		return false
	}
	return strings.HasPrefix(key, "visits/"+visitID.String()+"/signatures/")
}
