// Package content はストレージ境界での体験コンテンツの変換と検証を提供する。
//
// DBから読み込んだ型の緩い行データを model.Content に強制変換する Decode と、
// 管理者の部分更新リクエストを検証してカラム単位の更新内容に変換する ParsePatch を持つ。
package content

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// 値が空の場合に使用するデフォルト値。
const (
	DefaultRecipientName  = "Birthday Star"
	DefaultSenderName     = "HMXPANEL"
	DefaultTimezone       = "UTC"
	DefaultCountdownTitle = "🎉 Birthday Countdown 🎉"
	DefaultCakePageTitle  = "🎂 Cake Cutting 🎂"
	DefaultLetterTitle    = "💌 To My Amazing Friend"
)

// now はテストで差し替え可能な現在時刻関数。
var now = time.Now

// Columns は体験コンテンツを構成するカラム名の一覧。
// 順序は Row.ScanTargets と一致する。
var Columns = []string{
	"recipient_name",
	"sender_name",
	"birthday_date",
	"timezone",
	"profile_image_url",
	"voice_message_url",
	"background_music_url",
	"instagram_link",
	"countdown_title",
	"countdown_subtitle",
	"star_page_message",
	"cake_page_title",
	"cake_page_subtitle",
	"letter_title",
	"letter_paragraphs",
	"letter_signature",
	"final_reveal_message",
	"memories",
	"quiz_questions",
	"show_memory_timeline",
	"show_voice_message",
	"show_wish_vault",
	"show_final_reveal",
	"show_quiz",
}

// Row はストレージから読み込んだ体験コンテンツの生データ。
// 文字列と真偽値はNULLを許容し、jsonbカラムは未解析のバイト列として保持する。
type Row struct {
	RecipientName      sql.NullString
	SenderName         sql.NullString
	BirthdayDate       sql.NullTime
	Timezone           sql.NullString
	ProfileImageURL    sql.NullString
	VoiceMessageURL    sql.NullString
	BackgroundMusicURL sql.NullString
	InstagramLink      sql.NullString
	CountdownTitle     sql.NullString
	CountdownSubtitle  sql.NullString
	StarPageMessage    sql.NullString
	CakePageTitle      sql.NullString
	CakePageSubtitle   sql.NullString
	LetterTitle        sql.NullString
	LetterParagraphs   []byte
	LetterSignature    sql.NullString
	FinalRevealMessage sql.NullString
	Memories           []byte
	QuizQuestions      []byte
	ShowMemoryTimeline sql.NullBool
	ShowVoiceMessage   sql.NullBool
	ShowWishVault      sql.NullBool
	ShowFinalReveal    sql.NullBool
	ShowQuiz           sql.NullBool
}

// ScanTargets は Columns と同じ順序のScan先ポインタを返す。
func (r *Row) ScanTargets() []any {
	return []any{
		&r.RecipientName,
		&r.SenderName,
		&r.BirthdayDate,
		&r.Timezone,
		&r.ProfileImageURL,
		&r.VoiceMessageURL,
		&r.BackgroundMusicURL,
		&r.InstagramLink,
		&r.CountdownTitle,
		&r.CountdownSubtitle,
		&r.StarPageMessage,
		&r.CakePageTitle,
		&r.CakePageSubtitle,
		&r.LetterTitle,
		&r.LetterParagraphs,
		&r.LetterSignature,
		&r.FinalRevealMessage,
		&r.Memories,
		&r.QuizQuestions,
		&r.ShowMemoryTimeline,
		&r.ShowVoiceMessage,
		&r.ShowWishVault,
		&r.ShowFinalReveal,
		&r.ShowQuiz,
	}
}

// Issue は読み込み時に強制変換したフィールドの記録。
// 読み込み自体は失敗させず、呼び出し側でログに記録する。
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

// Decode は生データを model.Content に変換する。
// 破損したフィールドはデフォルト値に置き換え、その内容を Issue として返す。
func Decode(row Row) (model.Content, []Issue) {
	var issues []Issue

	c := model.Content{
		RecipientName:      stringOr(row.RecipientName, DefaultRecipientName),
		SenderName:         stringOr(row.SenderName, DefaultSenderName),
		Timezone:           stringOr(row.Timezone, DefaultTimezone),
		ProfileImageURL:    row.ProfileImageURL.String,
		VoiceMessageURL:    row.VoiceMessageURL.String,
		BackgroundMusicURL: row.BackgroundMusicURL.String,
		InstagramLink:      row.InstagramLink.String,
		CountdownTitle:     stringOr(row.CountdownTitle, DefaultCountdownTitle),
		CountdownSubtitle:  row.CountdownSubtitle.String,
		StarPageMessage:    row.StarPageMessage.String,
		CakePageTitle:      stringOr(row.CakePageTitle, DefaultCakePageTitle),
		CakePageSubtitle:   row.CakePageSubtitle.String,
		LetterTitle:        stringOr(row.LetterTitle, DefaultLetterTitle),
		LetterSignature:    row.LetterSignature.String,
		FinalRevealMessage: row.FinalRevealMessage.String,
		ShowMemoryTimeline: boolOr(row.ShowMemoryTimeline, true),
		ShowVoiceMessage:   boolOr(row.ShowVoiceMessage, true),
		ShowWishVault:      boolOr(row.ShowWishVault, true),
		ShowFinalReveal:    boolOr(row.ShowFinalReveal, true),
		ShowQuiz:           boolOr(row.ShowQuiz, true),
	}

	if row.BirthdayDate.Valid {
		c.BirthdayDate = row.BirthdayDate.Time.UTC()
	} else {
		c.BirthdayDate = now().UTC()
		issues = append(issues, Issue{Field: "birthday_date", Reason: "missing, defaulted to now"})
	}

	var is []Issue
	c.LetterParagraphs, is = decodeParagraphs(row.LetterParagraphs)
	issues = append(issues, is...)
	c.Memories, is = decodeMemories(row.Memories)
	issues = append(issues, is...)
	c.QuizQuestions, is = decodeQuiz(row.QuizQuestions)
	issues = append(issues, is...)

	return c, issues
}

// Defaults は新規作成時のコンテンツを返す。
func Defaults(recipientName string) model.Content {
	c, _ := Decode(Row{
		RecipientName: sql.NullString{String: recipientName, Valid: recipientName != ""},
		BirthdayDate:  sql.NullTime{Time: now(), Valid: true},
	})
	c.LetterParagraphs = []model.LetterParagraph{}
	c.Memories = []model.Memory{}
	c.QuizQuestions = []model.QuizQuestion{}
	return c
}

// splitArray はjsonbの値を配列要素に分解する。配列でない場合はnilとIssueを返す。
func splitArray(field string, raw []byte) ([]json.RawMessage, []Issue) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, []Issue{{Field: field, Reason: "not an array, treated as empty"}}
	}
	return elems, nil
}

func decodeParagraphs(raw []byte) ([]model.LetterParagraph, []Issue) {
	elems, issues := splitArray("letter_paragraphs", raw)
	out := make([]model.LetterParagraph, 0, len(elems))
	for i, e := range elems {
		// 旧データでは段落が文字列のみで保存されている場合がある
		var text string
		if err := json.Unmarshal(e, &text); err == nil {
			out = append(out, model.LetterParagraph{Content: text})
			continue
		}
		var p model.LetterParagraph
		if err := json.Unmarshal(e, &p); err != nil {
			issues = append(issues, Issue{Field: fmt.Sprintf("letter_paragraphs[%d]", i), Reason: "malformed, dropped"})
			continue
		}
		out = append(out, p)
	}
	return out, issues
}

// rawMemory は旧形式の imageUrl を含む思い出データ。
type rawMemory struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
	MediaType   string `json:"mediaType"`
	MediaURL    string `json:"mediaUrl"`
	ImageURL    string `json:"imageUrl"`
}

func decodeMemories(raw []byte) ([]model.Memory, []Issue) {
	elems, issues := splitArray("memories", raw)
	out := make([]model.Memory, 0, len(elems))
	for i, e := range elems {
		field := fmt.Sprintf("memories[%d]", i)
		var m rawMemory
		if err := json.Unmarshal(e, &m); err != nil {
			issues = append(issues, Issue{Field: field, Reason: "malformed, dropped"})
			continue
		}

		mem := model.Memory{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Emoji:       m.Emoji,
			MediaType:   model.MediaType(m.MediaType),
			MediaURL:    m.MediaURL,
		}
		switch {
		case m.MediaType == "" && m.ImageURL != "":
			mem.MediaType = model.MediaTypeImage
			mem.MediaURL = m.ImageURL
		case m.MediaType == "":
			mem.MediaType = model.MediaTypeNone
		case !mem.MediaType.Valid():
			issues = append(issues, Issue{Field: field + ".mediaType", Reason: fmt.Sprintf("unknown value %q, treated as none", m.MediaType)})
			mem.MediaType = model.MediaTypeNone
		}
		out = append(out, mem)
	}
	return out, issues
}

type rawQuizQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  *int     `json:"correct"`
}

func decodeQuiz(raw []byte) ([]model.QuizQuestion, []Issue) {
	elems, issues := splitArray("quiz_questions", raw)
	out := make([]model.QuizQuestion, 0, len(elems))
	for i, e := range elems {
		field := fmt.Sprintf("quiz_questions[%d]", i)
		var q rawQuizQuestion
		if err := json.Unmarshal(e, &q); err != nil {
			issues = append(issues, Issue{Field: field, Reason: "malformed, dropped"})
			continue
		}
		if len(q.Options) < model.MinQuizOptions || len(q.Options) > model.MaxQuizOptions {
			issues = append(issues, Issue{Field: field, Reason: fmt.Sprintf("%d options, dropped", len(q.Options))})
			continue
		}
		if q.Correct == nil || *q.Correct < 0 || *q.Correct >= len(q.Options) {
			issues = append(issues, Issue{Field: field, Reason: "correct index out of range, dropped"})
			continue
		}
		out = append(out, model.QuizQuestion{
			ID:       q.ID,
			Question: q.Question,
			Options:  q.Options,
			Correct:  *q.Correct,
		})
	}
	return out, issues
}

func stringOr(s sql.NullString, def string) string {
	if !s.Valid || s.String == "" {
		return def
	}
	return s.String
}

func boolOr(b sql.NullBool, def bool) bool {
	if !b.Valid {
		return def
	}
	return b.Bool
}
