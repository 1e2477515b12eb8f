package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Model types ---

// ItemRef identifies a votable entity inside the topic hierarchy.
// SubQuestionID is zero for subcategory-level items.
type ItemRef struct {
	CategoryID    uuid.UUID
	SubcategoryID uuid.UUID
	SubQuestionID uuid.UUID
}

// IsSubQuestion reports whether the ref points at a sub-question rather than
// a subcategory.
func (r ItemRef) IsSubQuestion() bool {
	return r.SubQuestionID != uuid.Nil
}

// ItemID returns the identity of the votable entity itself.
func (r ItemRef) ItemID() uuid.UUID {
	if r.IsSubQuestion() {
		return r.SubQuestionID
	}
	return r.SubcategoryID
}

// DocPath returns the document path of the item's aggregate document.
func (r ItemRef) DocPath() string {
	base := fmt.Sprintf("categories/%s/subcategories/%s", r.CategoryID, r.SubcategoryID)
	if r.IsSubQuestion() {
		return base + "/subquestions/" + r.SubQuestionID.String()
	}
	return base
}

// VotesMetadata is the derived metadata block stored next to the counters.
type VotesMetadata struct {
	LastVoteAt   time.Time `json:"lastVoteAt"`
	TotalVotes   int64     `json:"totalVotes"`
	UniqueVoters int64     `json:"uniqueVoters"`
}

// ItemAggregateView is the externally observable projection of an item's
// aggregate counters. It is a value type: callers always receive copies.
type ItemAggregateView struct {
	Ref      ItemRef       `json:"ref"`
	YayCount int64         `json:"yayCount"`
	NayCount int64         `json:"nayCount"`
	Metadata VotesMetadata `json:"votesMetadata"`
}

// VoteRecord is the per-(user,item) ledger entry. Its existence is the
// witness that the user has voted on the item before.
type VoteRecord struct {
	UserID       uuid.UUID  `json:"userId"`
	ItemID       uuid.UUID  `json:"itemId"`
	IsYay        bool       `json:"isYay"`
	Timestamp    time.Time  `json:"timestamp"`
	PreviousVote *bool      `json:"previousVote,omitempty"`
	LastChangeAt *time.Time `json:"lastChangeAt,omitempty"`
}

// AttributeVoteTally is an independent yay/nay bucket for a named facet of an
// item, layered on top of the item's own counters.
type AttributeVoteTally struct {
	ItemID    uuid.UUID `json:"itemId"`
	Attribute string    `json:"attribute"`
	YayCount  int64     `json:"yayCount"`
	NayCount  int64     `json:"nayCount"`
}

// Comment is a flat comment record. Replies reference their parent through
// ParentID; the threaded view is derived at read time.
//
// AuthorName and AuthorAvatarURL are denormalized at write time and never
// re-synced with the author's profile.
type Comment struct {
	ID              uuid.UUID   `json:"id"`
	ItemID          uuid.UUID   `json:"itemId"`
	UserID          uuid.UUID   `json:"userId"`
	AuthorName      string      `json:"authorName"`
	AuthorAvatarURL string      `json:"authorAvatarUrl,omitempty"`
	Text            string      `json:"text"`
	Timestamp       time.Time   `json:"timestamp"`
	Likes           int64       `json:"likes"`
	LikedBy         []uuid.UUID `json:"likedBy,omitempty"`
	ParentID        *uuid.UUID  `json:"parentId,omitempty"`
}

// IsLikedBy reports whether the given user already likes the comment.
func (c *Comment) IsLikedBy(userID uuid.UUID) bool {
	for _, id := range c.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// CommentThread is a top-level comment with its replies attached for display.
type CommentThread struct {
	Comment Comment   `json:"comment"`
	Replies []Comment `json:"replies,omitempty"`
}

// --- Vote outcome ---

// VoteStatus classifies the result of a vote call.
type VoteStatus string

const (
	VoteCommitted        VoteStatus = "committed"
	VoteRejectedCooldown VoteStatus = "rejected_cooldown"
	VoteFailed           VoteStatus = "failed"
)

// VoteOutcome is the structured result returned by the engine facade for
// every vote call. Failures are reported here, never as panics.
type VoteOutcome struct {
	Status    VoteStatus    `json:"status"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Err       error         `json:"-"`
}

// Committed reports whether the vote was durably applied.
func (o VoteOutcome) Committed() bool { return o.Status == VoteCommitted }

// --- Profile and catalog (read-side collaborators) ---

// Profile carries the display fields denormalized into comments.
type Profile struct {
	UserID      uuid.UUID
	DisplayName string
	AvatarURL   string
}

// Category is a top-level topic.
type Category struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Subcategory is a votable item under a category.
type Subcategory struct {
	ID         uuid.UUID
	CategoryID uuid.UUID
	Name       string
	ImageURL   string
	CreatedAt  time.Time
}

// SubQuestion is a votable item under a subcategory.
type SubQuestion struct {
	ID            uuid.UUID
	SubcategoryID uuid.UUID
	Question      string
	CreatedAt     time.Time
}
