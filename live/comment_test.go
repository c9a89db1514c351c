package live

import (
	"testing"
	"time"
)

func TestCommentPredicates(t *testing.T) {
	cases := []struct {
		name          string
		comment       Comment
		wantControl   bool
		wantDistrib   bool
		wantNormal    bool
	}{
		{
			name:        "viewer chat",
			comment:     Comment{Author: Author{ID: "100", AccountType: AccountGeneral}},
			wantControl: false,
			wantDistrib: false,
			wantNormal:  true,
		},
		{
			name:        "admin account",
			comment:     Comment{Author: Author{ID: "42", AccountType: AccountAdmin}},
			wantControl: true,
			wantDistrib: false,
			wantNormal:  true,
		},
		{
			name:        "system account id",
			comment:     Comment{Author: Author{ID: "900000000", AccountType: AccountGeneral}},
			wantControl: true,
			wantDistrib: false,
			wantNormal:  true,
		},
		{
			name:        "distributor",
			comment:     Comment{Author: Author{ID: "77", AccountType: AccountDistributor}},
			wantControl: false,
			wantDistrib: true,
			wantNormal:  true,
		},
		{
			name:        "system post through distributor account",
			comment:     Comment{Author: Author{ID: "900000000", AccountType: AccountDistributor}},
			wantControl: true,
			wantDistrib: true,
			wantNormal:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.comment.IsControlComment(); got != tc.wantControl {
				t.Errorf("IsControlComment() = %v, want %v", got, tc.wantControl)
			}
			if got := tc.comment.IsFromDistributor(); got != tc.wantDistrib {
				t.Errorf("IsFromDistributor() = %v, want %v", got, tc.wantDistrib)
			}
			if got := tc.comment.IsNormalComment(); got != tc.wantNormal {
				t.Errorf("IsNormalComment() = %v, want %v", got, tc.wantNormal)
			}
		})
	}
}

func TestCommentFromChat(t *testing.T) {
	raw := []byte(`<chat thread="1000" vpos="3600" date="1400000000" mail="184" user_id="abcDEF123" premium="1" anonymity="1" score="-500" locale="ja-jp">hello</chat>`)

	decoded, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	frame, ok := decoded.(*chatFrame)
	if !ok {
		t.Fatalf("expected *chatFrame, got %T", decoded)
	}

	c := commentFromChat(frame, "1234567")

	if c.ThreadID != "1000" {
		t.Errorf("thread id = %q", c.ThreadID)
	}
	if !c.Date.Equal(time.Unix(1400000000, 0)) {
		t.Errorf("date = %v", c.Date)
	}
	if c.Command != "184" {
		t.Errorf("command = %q", c.Command)
	}
	if c.Text != "hello" {
		t.Errorf("text = %q", c.Text)
	}
	if c.VPos != 3600 {
		t.Errorf("vpos = %d", c.VPos)
	}
	if c.IsOwnPost {
		t.Error("expected not own post")
	}
	if c.Author.ID != "abcDEF123" {
		t.Errorf("author id = %q", c.Author.ID)
	}
	if !c.Author.IsAnonymous || !c.Author.IsPremium {
		t.Errorf("author flags = %+v", c.Author)
	}
	if c.Author.NGScore != -500 {
		t.Errorf("ng score = %d", c.Author.NGScore)
	}
}

func TestCommentOwnPost(t *testing.T) {
	byUserID := &chatFrame{UserID: "1234567"}
	if c := commentFromChat(byUserID, "1234567"); !c.IsOwnPost {
		t.Error("expected own post via matching user id")
	}

	byAttr := &chatFrame{UserID: "999", YourPost: "1"}
	if c := commentFromChat(byAttr, "1234567"); !c.IsOwnPost {
		t.Error("expected own post via yourpost attribute")
	}

	other := &chatFrame{UserID: "999"}
	if c := commentFromChat(other, "1234567"); c.IsOwnPost {
		t.Error("expected foreign post")
	}
}
