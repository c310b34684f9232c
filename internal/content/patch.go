package content

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hitoshi/birthday-portal/internal/model"
	"github.com/hitoshi/birthday-portal/internal/security"
)

//go:embed schema/patch.json
var patchSchema []byte

// Patch は管理者による部分更新の内容。nilのフィールドは変更しない。
// slug, id, password_hashはスキーマで拒否されるため含まれない。
type Patch struct {
	RecipientName *string    `json:"recipient_name"`
	SenderName    *string    `json:"sender_name"`
	BirthdayDate  *time.Time `json:"birthday_date"`
	Timezone      *string    `json:"timezone"`

	ProfileImageURL    *string `json:"profile_image_url"`
	VoiceMessageURL    *string `json:"voice_message_url"`
	BackgroundMusicURL *string `json:"background_music_url"`
	InstagramLink      *string `json:"instagram_link"`

	CountdownTitle     *string `json:"countdown_title"`
	CountdownSubtitle  *string `json:"countdown_subtitle"`
	StarPageMessage    *string `json:"star_page_message"`
	CakePageTitle      *string `json:"cake_page_title"`
	CakePageSubtitle   *string `json:"cake_page_subtitle"`
	LetterTitle        *string `json:"letter_title"`
	LetterSignature    *string `json:"letter_signature"`
	FinalRevealMessage *string `json:"final_reveal_message"`

	LetterParagraphs *[]model.LetterParagraph `json:"letter_paragraphs"`
	Memories         *[]model.Memory          `json:"memories"`
	QuizQuestions    *[]model.QuizQuestion    `json:"quiz_questions"`

	ShowMemoryTimeline *bool `json:"show_memory_timeline"`
	ShowVoiceMessage   *bool `json:"show_voice_message"`
	ShowWishVault      *bool `json:"show_wish_vault"`
	ShowFinalReveal    *bool `json:"show_final_reveal"`
	ShowQuiz           *bool `json:"show_quiz"`
}

// Parser は部分更新リクエストを検証・正規化する。
type Parser struct {
	schema    *gojsonschema.Schema
	sanitizer security.ContentSanitizerService
	urls      security.MediaURLPolicy
	newID     func() string
}

// NewParser はParserを生成する。埋め込みスキーマのコンパイルに失敗した場合はエラーを返す。
func NewParser(sanitizer security.ContentSanitizerService, urls security.MediaURLPolicy) (*Parser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(patchSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile patch schema: %w", err)
	}
	return &Parser{
		schema:    schema,
		sanitizer: sanitizer,
		urls:      urls,
		newID:     uuid.NewString,
	}, nil
}

// ParsePatch はリクエストボディを検証し、正規化済みのPatchを返す。
// 検証エラーは *model.APIError (INVALID_CONTENT) として返す。
func (p *Parser) ParsePatch(body []byte) (*Patch, error) {
	if !json.Valid(body) {
		return nil, model.NewInvalidRequestError()
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, model.NewInvalidRequestError()
	}
	if !result.Valid() {
		reasons := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			reasons[i] = desc.String()
		}
		return nil, model.NewInvalidContentError(strings.Join(reasons, "; "))
	}

	var patch Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, model.NewInvalidContentError(err.Error())
	}

	if err := p.normalize(&patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

// normalize はテキストのサニタイズ、URL・タイムゾーン・クイズの検証、IDの採番を行う。
func (p *Parser) normalize(patch *Patch) error {
	for _, s := range []*string{
		patch.RecipientName, patch.SenderName,
		patch.CountdownTitle, patch.CountdownSubtitle, patch.StarPageMessage,
		patch.CakePageTitle, patch.CakePageSubtitle, patch.LetterTitle,
		patch.LetterSignature, patch.FinalRevealMessage,
	} {
		if s != nil {
			*s = p.sanitizer.SanitizeText(*s)
		}
	}
	if patch.RecipientName != nil && strings.TrimSpace(*patch.RecipientName) == "" {
		return model.NewInvalidContentError("recipient_name must not be empty")
	}

	urls := map[string]*string{
		"profile_image_url":    patch.ProfileImageURL,
		"voice_message_url":    patch.VoiceMessageURL,
		"background_music_url": patch.BackgroundMusicURL,
		"instagram_link":       patch.InstagramLink,
	}
	for field, u := range urls {
		if u == nil {
			continue
		}
		*u = strings.TrimSpace(*u)
		if err := p.urls.ValidateURL(*u); err != nil {
			return model.NewInvalidContentError(fmt.Sprintf("%s: %v", field, err))
		}
	}

	if patch.Timezone != nil {
		if _, err := time.LoadLocation(*patch.Timezone); err != nil {
			return model.NewInvalidContentError(fmt.Sprintf("timezone: unknown zone %q", *patch.Timezone))
		}
	}
	if patch.BirthdayDate != nil {
		t := patch.BirthdayDate.UTC()
		patch.BirthdayDate = &t
	}

	if patch.LetterParagraphs != nil {
		ids := newIDSet("letter_paragraphs")
		for i := range *patch.LetterParagraphs {
			para := &(*patch.LetterParagraphs)[i]
			para.Content = p.sanitizer.SanitizeText(para.Content)
			if err := ids.claim(i, &para.ID, p.newID); err != nil {
				return err
			}
		}
	}

	if patch.Memories != nil {
		ids := newIDSet("memories")
		for i := range *patch.Memories {
			m := &(*patch.Memories)[i]
			m.Title = p.sanitizer.SanitizeText(m.Title)
			m.Description = p.sanitizer.SanitizeText(m.Description)
			m.Emoji = p.sanitizer.SanitizeText(m.Emoji)
			m.MediaURL = strings.TrimSpace(m.MediaURL)
			if m.MediaType == "" {
				m.MediaType = model.MediaTypeNone
			}
			if m.MediaType == model.MediaTypeNone {
				m.MediaURL = ""
			}
			if err := p.urls.ValidateURL(m.MediaURL); err != nil {
				return model.NewInvalidContentError(fmt.Sprintf("memories[%d].mediaUrl: %v", i, err))
			}
			if err := ids.claim(i, &m.ID, p.newID); err != nil {
				return err
			}
		}
	}

	if patch.QuizQuestions != nil {
		ids := newIDSet("quiz_questions")
		for i := range *patch.QuizQuestions {
			q := &(*patch.QuizQuestions)[i]
			if q.Correct < 0 || q.Correct >= len(q.Options) {
				return model.NewInvalidContentError(fmt.Sprintf("quiz_questions[%d].correct: index %d out of range", i, q.Correct))
			}
			q.Question = p.sanitizer.SanitizeText(q.Question)
			for j := range q.Options {
				q.Options[j] = p.sanitizer.SanitizeText(q.Options[j])
			}
			if err := ids.claim(i, &q.ID, p.newID); err != nil {
				return err
			}
		}
	}

	return nil
}

// idSet はリスト内の要素IDの一意性を検査する。
type idSet struct {
	field string
	seen  map[string]int
}

func newIDSet(field string) *idSet {
	return &idSet{field: field, seen: make(map[string]int)}
}

// claim は空のIDを採番し、同じリスト内で既出のIDであればエラーを返す。
func (s *idSet) claim(i int, id *string, newID func() string) error {
	*id = strings.TrimSpace(*id)
	if *id == "" {
		*id = newID()
	}
	if first, ok := s.seen[*id]; ok {
		return model.NewInvalidContentError(fmt.Sprintf("%s[%d].id: duplicates %s[%d].id %q", s.field, i, s.field, first, *id))
	}
	s.seen[*id] = i
	return nil
}

// Columns は更新対象のカラム名と値のマップを返す。
// jsonbカラムの値はJSON文字列として格納する。
func (patch *Patch) Columns() (map[string]any, error) {
	cols := make(map[string]any)

	setString := func(name string, v *string) {
		if v != nil {
			cols[name] = *v
		}
	}
	setBool := func(name string, v *bool) {
		if v != nil {
			cols[name] = *v
		}
	}

	setString("recipient_name", patch.RecipientName)
	setString("sender_name", patch.SenderName)
	if patch.BirthdayDate != nil {
		cols["birthday_date"] = patch.BirthdayDate.UTC()
	}
	setString("timezone", patch.Timezone)
	setString("profile_image_url", patch.ProfileImageURL)
	setString("voice_message_url", patch.VoiceMessageURL)
	setString("background_music_url", patch.BackgroundMusicURL)
	setString("instagram_link", patch.InstagramLink)
	setString("countdown_title", patch.CountdownTitle)
	setString("countdown_subtitle", patch.CountdownSubtitle)
	setString("star_page_message", patch.StarPageMessage)
	setString("cake_page_title", patch.CakePageTitle)
	setString("cake_page_subtitle", patch.CakePageSubtitle)
	setString("letter_title", patch.LetterTitle)
	setString("letter_signature", patch.LetterSignature)
	setString("final_reveal_message", patch.FinalRevealMessage)

	if patch.LetterParagraphs != nil {
		v, err := marshalList(*patch.LetterParagraphs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode letter_paragraphs: %w", err)
		}
		cols["letter_paragraphs"] = v
	}
	if patch.Memories != nil {
		v, err := marshalList(*patch.Memories)
		if err != nil {
			return nil, fmt.Errorf("failed to encode memories: %w", err)
		}
		cols["memories"] = v
	}
	if patch.QuizQuestions != nil {
		v, err := marshalList(*patch.QuizQuestions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode quiz_questions: %w", err)
		}
		cols["quiz_questions"] = v
	}

	setBool("show_memory_timeline", patch.ShowMemoryTimeline)
	setBool("show_voice_message", patch.ShowVoiceMessage)
	setBool("show_wish_vault", patch.ShowWishVault)
	setBool("show_final_reveal", patch.ShowFinalReveal)
	setBool("show_quiz", patch.ShowQuiz)

	return cols, nil
}
