// Package model はドメインモデルを定義する。
package model

import "time"

// MediaType は思い出に添付するメディアの種別を表す。
type MediaType string

const (
	// MediaTypeNone はメディアなし。
	MediaTypeNone MediaType = "none"
	// MediaTypeImage は画像。
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo は動画。
	MediaTypeVideo MediaType = "video"
)

// Valid はメディア種別が定義済みの値かどうかを返す。
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeNone, MediaTypeImage, MediaTypeVideo:
		return true
	}
	return false
}

// LetterParagraph は手紙の1段落を表す。
// IDは作成時に採番され、並び替えや編集で再利用されない。
type LetterParagraph struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Memory は思い出タイムラインの1項目を表す。
// jsonbカラム内の既存データとの互換のため、JSONキーはcamelCaseのまま保持する。
type Memory struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Emoji       string    `json:"emoji"`
	MediaType   MediaType `json:"mediaType"`
	MediaURL    string    `json:"mediaUrl"`
}

// QuizQuestion はクイズの1問を表す。
// Correctは Options の有効なインデックスでなければならない。
type QuizQuestion struct {
	ID       string   `json:"id,omitempty"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  int      `json:"correct"`
}

// クイズ選択肢数の制約。
const (
	MinQuizOptions = 2
	MaxQuizOptions = 6
)

// Content は受け取り手ごとに設定可能な体験コンテンツ全体を表す。
// 受け取り手レコードとデフォルトサイト設定の双方で共有される。
type Content struct {
	RecipientName string    `json:"recipient_name"`
	SenderName    string    `json:"sender_name"`
	BirthdayDate  time.Time `json:"birthday_date"`
	Timezone      string    `json:"timezone"` // 表示用。アンロック判定には使用しない

	ProfileImageURL    string `json:"profile_image_url"`
	VoiceMessageURL    string `json:"voice_message_url"`
	BackgroundMusicURL string `json:"background_music_url"`
	InstagramLink      string `json:"instagram_link"`

	CountdownTitle     string            `json:"countdown_title"`
	CountdownSubtitle  string            `json:"countdown_subtitle"`
	StarPageMessage    string            `json:"star_page_message"`
	CakePageTitle      string            `json:"cake_page_title"`
	CakePageSubtitle   string            `json:"cake_page_subtitle"`
	LetterTitle        string            `json:"letter_title"`
	LetterParagraphs   []LetterParagraph `json:"letter_paragraphs"`
	LetterSignature    string            `json:"letter_signature"`
	FinalRevealMessage string            `json:"final_reveal_message"`

	Memories      []Memory       `json:"memories"`
	QuizQuestions []QuizQuestion `json:"quiz_questions"`

	ShowMemoryTimeline bool `json:"show_memory_timeline"`
	ShowVoiceMessage   bool `json:"show_voice_message"`
	ShowWishVault      bool `json:"show_wish_vault"`
	ShowFinalReveal    bool `json:"show_final_reveal"`
	ShowQuiz           bool `json:"show_quiz"`
}

// Recipient はパスワードで保護された1つの誕生日体験を表す。
// PasswordHashはクライアント向けレスポンスに決してシリアライズされない。
type Recipient struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	PasswordHash string `json:"-"`
	Content
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientSummary は管理画面の一覧表示用の要約情報。
type RecipientSummary struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	RecipientName string    `json:"recipient_name"`
	BirthdayDate  time.Time `json:"birthday_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// SiteConfig はルートURLで公開されるデフォルト（単一テナント）体験の設定。
type SiteConfig struct {
	ID        string `json:"id"`
	ConfigKey string `json:"config_key"`
	Content
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSiteConfigKey はデフォルトサイト設定のキー。
const DefaultSiteConfigKey = "default"
