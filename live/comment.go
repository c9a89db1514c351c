package live

import (
	"regexp"
	"time"
)

// AccountType classifies the author of a live comment.
type AccountType int

// Account types reported in the premium attribute of a chat fragment.
const (
	AccountGeneral     AccountType = 0
	AccountPremium     AccountType = 1
	AccountDistributor AccountType = 3
	AccountAdmin       AccountType = 6
)

// adminUserID is the well-known id the platform's system account posts under.
const adminUserID = "900000000"

var numericIDPattern = regexp.MustCompile(`^\d+$`)

// Author identifies who posted a comment. Anonymous authors carry a
// non-numeric id string.
type Author struct {
	// ID is the user id. Opaque; anonymous ids are not numeric.
	ID string
	// NGScore is the author's NG (filter) score.
	NGScore int
	// AccountType is the account classification.
	AccountType AccountType
	// IsPremium reports whether the author is a paying member.
	IsPremium bool
	// IsAnonymous reports whether the comment was posted anonymously.
	IsAnonymous bool
}

// Comment is a single chat fragment received from a comment server.
// Comments are immutable; two structurally equal comments are
// interchangeable.
type Comment struct {
	// ThreadID is the comment server thread the comment belongs to.
	ThreadID string
	// Date is when the comment was posted.
	Date time.Time
	// Locale is the poster's region, when the server reports one.
	Locale string
	// Command holds posting flags such as "184".
	Command string
	// Text is the comment body with XML entities decoded.
	Text string
	// VPos is the server-assigned playback position ordinal.
	VPos int
	// IsOwnPost reports whether the logged-in user posted this comment.
	IsOwnPost bool
	// Author is the poster.
	Author Author
}

// IsControlComment reports whether the comment carries machine-readable
// state from the platform's system account or an administrator.
func (c *Comment) IsControlComment() bool {
	return c.Author.ID == adminUserID || c.Author.AccountType == AccountAdmin
}

// IsFromDistributor reports whether the broadcaster posted the comment.
func (c *Comment) IsFromDistributor() bool {
	return c.Author.AccountType == AccountDistributor
}

// IsNormalComment reports whether the comment is ordinary viewer chat.
func (c *Comment) IsNormalComment() bool {
	return !(c.IsControlComment() && c.IsFromDistributor())
}

// IsOwn reports whether the logged-in user posted the comment.
func (c *Comment) IsOwn() bool { return c.IsOwnPost }

// IsAnonymous reports whether the comment was posted anonymously.
func (c *Comment) IsAnonymous() bool { return c.Author.IsAnonymous }

// IsPremium reports whether a paying member posted the comment.
func (c *Comment) IsPremium() bool { return c.Author.IsPremium }

// commentFromChat builds a Comment from a decoded chat fragment.
// loggedUserID marks own posts in addition to the yourpost attribute.
func commentFromChat(f *chatFrame, loggedUserID string) *Comment {
	premium := atoi(f.Premium)
	return &Comment{
		ThreadID:  f.Thread,
		Date:      time.Unix(int64(atoi(f.Date)), 0),
		Locale:    f.Locale,
		Command:   f.Mail,
		Text:      f.Text,
		VPos:      atoi(f.VPos),
		IsOwnPost: f.YourPost == "1" || (f.UserID != "" && f.UserID == loggedUserID),
		Author: Author{
			ID:          f.UserID,
			NGScore:     atoi(f.Score),
			AccountType: AccountType(premium),
			IsPremium:   premium > 0,
			IsAnonymous: atoi(f.Anonymity) != 0,
		},
	}
}
