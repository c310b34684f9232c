package content

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// Encode は体験コンテンツ全体をカラム名と値のマップに変換する。
// jsonbカラムの値はJSON文字列として格納する。
func Encode(c model.Content) (map[string]any, error) {
	paragraphs, err := marshalList(c.LetterParagraphs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode letter_paragraphs: %w", err)
	}
	memories, err := marshalList(c.Memories)
	if err != nil {
		return nil, fmt.Errorf("failed to encode memories: %w", err)
	}
	quiz, err := marshalList(c.QuizQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quiz_questions: %w", err)
	}

	return map[string]any{
		"recipient_name":       c.RecipientName,
		"sender_name":          c.SenderName,
		"birthday_date":        c.BirthdayDate.UTC(),
		"timezone":             c.Timezone,
		"profile_image_url":    c.ProfileImageURL,
		"voice_message_url":    c.VoiceMessageURL,
		"background_music_url": c.BackgroundMusicURL,
		"instagram_link":       c.InstagramLink,
		"countdown_title":      c.CountdownTitle,
		"countdown_subtitle":   c.CountdownSubtitle,
		"star_page_message":    c.StarPageMessage,
		"cake_page_title":      c.CakePageTitle,
		"cake_page_subtitle":   c.CakePageSubtitle,
		"letter_title":         c.LetterTitle,
		"letter_paragraphs":    paragraphs,
		"letter_signature":     c.LetterSignature,
		"final_reveal_message": c.FinalRevealMessage,
		"memories":             memories,
		"quiz_questions":       quiz,
		"show_memory_timeline": c.ShowMemoryTimeline,
		"show_voice_message":   c.ShowVoiceMessage,
		"show_wish_vault":      c.ShowWishVault,
		"show_final_reveal":    c.ShowFinalReveal,
		"show_quiz":            c.ShowQuiz,
	}, nil
}

// marshalList はスライスをJSON文字列に変換する。nilは空配列として扱う。
func marshalList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
