// Package experience は誕生日体験のステップ構成と進行状態を扱う。
package experience

import (
	"time"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// StepID は体験の1画面を識別する。
type StepID string

const (
	StepCountdown StepID = "countdown"
	StepStar      StepID = "star"
	StepMemories  StepID = "memories"
	StepQuiz      StepID = "quiz"
	StepCake      StepID = "cake"
	StepLetter    StepID = "letter"
	StepFinal     StepID = "final"
)

// IsUnlocked は現在時刻が誕生日に達しているかを返す。
// タイムゾーンは表示用のみで判定には使用しない。
func IsUnlocked(c model.Content, now time.Time) bool {
	return !now.Before(c.BirthdayDate)
}

// BuildSteps は表示フラグに基づいてステップ列を構築する。
// 順序は固定で、フラグはステップを取り除くだけで並び替えない。
func BuildSteps(c model.Content) []StepID {
	steps := make([]StepID, 0, 7)
	steps = append(steps, StepCountdown, StepStar)
	if c.ShowMemoryTimeline {
		steps = append(steps, StepMemories)
	}
	if c.ShowQuiz && len(c.QuizQuestions) > 0 {
		steps = append(steps, StepQuiz)
	}
	steps = append(steps, StepCake, StepLetter)
	if c.ShowFinalReveal {
		steps = append(steps, StepFinal)
	}
	return steps
}

// Remaining は誕生日までの残り時間。
type Remaining struct {
	Days     int  `json:"days"`
	Hours    int  `json:"hours"`
	Minutes  int  `json:"minutes"`
	Seconds  int  `json:"seconds"`
	Complete bool `json:"complete"`
}

// Countdown はtargetまでの残り時間を日・時・分・秒に分解する。
func Countdown(target, now time.Time) Remaining {
	d := target.Sub(now)
	if d <= 0 {
		return Remaining{Complete: true}
	}
	total := int(d / time.Second)
	return Remaining{
		Days:    total / 86400,
		Hours:   total % 86400 / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

// QuizTier はクイズ結果の評価段階。
type QuizTier string

const (
	// QuizTierPerfect は全問正解。
	QuizTierPerfect QuizTier = "perfect"
	// QuizTierGreat は半数以上正解。
	QuizTierGreat QuizTier = "great"
	// QuizTierKeepTrying はそれ未満。
	QuizTierKeepTrying QuizTier = "keep_trying"
)

// QuizResult はクイズの採点結果。
type QuizResult struct {
	Score int      `json:"score"`
	Total int      `json:"total"`
	Tier  QuizTier `json:"tier"`
}

// ScoreQuiz は回答を採点する。answers[i] は i 問目で選んだ選択肢のインデックス。
// 回答が不足している問題は不正解として扱う。
func ScoreQuiz(questions []model.QuizQuestion, answers []int) QuizResult {
	r := QuizResult{Total: len(questions)}
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.Correct {
			r.Score++
		}
	}

	switch {
	case r.Score == r.Total:
		r.Tier = QuizTierPerfect
	case r.Score*2 >= r.Total:
		r.Tier = QuizTierGreat
	default:
		r.Tier = QuizTierKeepTrying
	}
	return r
}
