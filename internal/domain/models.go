// Package domain defines the persistence models for scripts, votes, vote
// aggregates, and script requests. These types are mapped with GORM and form
// the core data layer of the script catalog.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// VoteKind distinguishes the two ledger entry types.
type VoteKind string

const (
	VoteLike     VoteKind = "like"
	VoteDownvote VoteKind = "downvote"
)

// Opposite returns the kind that a vote of k supersedes.
func (k VoteKind) Opposite() VoteKind {
	if k == VoteLike {
		return VoteDownvote
	}
	return VoteLike
}

// Valid reports whether k is one of the known kinds.
func (k VoteKind) Valid() bool { return k == VoteLike || k == VoteDownvote }

// Script is a catalog entry: an uploaded script plus the metadata derived
// from it.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Filename: original upload name, or a generated name for inputs.
//   - Title, Language, Tags, Description, HowItWorks, Category: metadata.
//     Tags is a comma-separated list.
//   - Content: the script source text.
//   - ContentHash: md5 of Content; unique, used for duplicate detection.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Script struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Filename    string    `json:"filename"     gorm:"type:varchar(255);index"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null"`
	Language    string    `json:"language"     gorm:"type:varchar(64);not null;index"`
	Tags        string    `json:"tags"         gorm:"type:text;not null"`
	Description string    `json:"description"  gorm:"type:text;not null"`
	HowItWorks  string    `json:"how_it_works" gorm:"type:text;not null"`
	Category    string    `json:"category"     gorm:"type:varchar(64);not null;index"`
	Content     string    `json:"script_content" gorm:"type:text;not null"`
	ContentHash string    `json:"-"            gorm:"type:char(32);not null;uniqueIndex:ux_scripts_content_hash"`
	CreatedAt   time.Time `json:"upload_time"  gorm:"index:idx_scripts_created"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Script.
func (Script) TableName() string { return "scripts" }

// HashContent returns the hex md5 digest used to detect duplicate content.
func HashContent(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Vote is one ledger entry: a like or downvote cast by a voter on a script.
// A voter holds at most one entry per (script, kind), enforced by the
// unique index; the service layer additionally keeps like and downvote
// mutually exclusive.
type Vote struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Voter     string    `json:"-"         gorm:"type:varchar(64);not null;uniqueIndex:ux_votes_voter_script_kind,priority:1"`
	ScriptID  string    `json:"script_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_votes_voter_script_kind,priority:2"`
	Kind      VoteKind  `json:"kind"      gorm:"type:varchar(16);not null;uniqueIndex:ux_votes_voter_script_kind,priority:3;check:kind IN ('like','downvote')"`
	CreatedAt time.Time `json:"created_at"`

	// Script is the voted entry. Ledger rows go away with it.
	Script Script `json:"-" gorm:"foreignKey:ScriptID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// LikeAggregate is the running like total for a script. A missing row means
// zero; rows are deleted rather than kept at zero.
type LikeAggregate struct {
	ScriptID  string    `json:"script_id"  gorm:"type:char(36);primaryKey"`
	Count     int64     `json:"like_count" gorm:"not null;default:0;index;check:count >= 0"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for LikeAggregate.
func (LikeAggregate) TableName() string { return "script_likes" }

// DownvoteAggregate is the running downvote total for a script.
type DownvoteAggregate struct {
	ScriptID  string    `json:"script_id"      gorm:"type:char(36);primaryKey"`
	Count     int64     `json:"downvote_count" gorm:"not null;default:0;check:count >= 0"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for DownvoteAggregate.
func (DownvoteAggregate) TableName() string { return "script_downvotes" }

// ScriptRequest is a user's request for a script that does not exist yet.
// Fulfillment flips Fulfilled; requests are never deleted.
type ScriptRequest struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null;index"`
	Description string    `json:"description"  gorm:"type:text;not null"`
	Language    *string   `json:"language,omitempty" gorm:"type:varchar(64)"`
	Tags        *string   `json:"tags,omitempty"     gorm:"type:text"`
	Fulfilled   bool      `json:"is_fulfilled" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"request_time"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName returns the database table name for ScriptRequest.
func (ScriptRequest) TableName() string { return "script_requests" }
