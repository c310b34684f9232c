package experience

import (
	"fmt"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// Sequencer はステップ列上の現在位置を管理する。
// ステップ列が縮んだ場合は位置を最後の有効なインデックスに丸める。
type Sequencer struct {
	steps []StepID
	index int
}

// NewSequencer はコンテンツからステップ列を構築し、indexを有効範囲に丸めて位置を設定する。
func NewSequencer(c model.Content, index int) *Sequencer {
	s := &Sequencer{steps: BuildSteps(c), index: index}
	s.clamp()
	return s
}

// Steps はステップ列を返す。
func (s *Sequencer) Steps() []StepID {
	return s.steps
}

// Index は現在のインデックスを返す。
func (s *Sequencer) Index() int {
	return s.index
}

// Current は現在のステップを返す。
func (s *Sequencer) Current() StepID {
	return s.steps[s.index]
}

// IsLast は最後のステップにいるかを返す。
func (s *Sequencer) IsLast() bool {
	return s.index == len(s.steps)-1
}

// Advance は次のステップへ進む。最後のステップでは何もしない。
// 誕生日前にカウントダウンから進もうとした場合は位置を変えずに model.ErrStepLocked を返す。
func (s *Sequencer) Advance(unlocked bool) error {
	if s.Current() == StepCountdown && !unlocked {
		return model.ErrStepLocked
	}
	if !s.IsLast() {
		s.index++
	}
	return nil
}

// Retreat は前のステップへ戻る。最初のステップでは何もしない。
func (s *Sequencer) Retreat() {
	if s.index > 0 {
		s.index--
	}
}

// JumpTo は指定ステップへ直接移動する。
// カウントダウンから離れる移動にはAdvanceと同じアンロック条件が適用される。
func (s *Sequencer) JumpTo(step StepID, unlocked bool) error {
	target := s.indexOf(step)
	if target < 0 {
		return fmt.Errorf("%w: %s", model.ErrStepNotAvailable, step)
	}
	if s.Current() == StepCountdown && target != s.index && !unlocked {
		return model.ErrStepLocked
	}
	s.index = target
	return nil
}

// Complete はステップの完了（クイズ回答・ケーキのお祝い）を暗黙の前進として扱う。
// 現在のステップと異なる場合は model.ErrStepNotAvailable を返す。
func (s *Sequencer) Complete(step StepID, unlocked bool) error {
	if s.Current() != step {
		return fmt.Errorf("%w: current step is %s, not %s", model.ErrStepNotAvailable, s.Current(), step)
	}
	return s.Advance(unlocked)
}

// Resync はコンテンツの更新に合わせてステップ列を再構築する。
func (s *Sequencer) Resync(c model.Content) {
	s.steps = BuildSteps(c)
	s.clamp()
}

func (s *Sequencer) clamp() {
	if s.index >= len(s.steps) {
		s.index = len(s.steps) - 1
	}
	if s.index < 0 {
		s.index = 0
	}
}

func (s *Sequencer) indexOf(step StepID) int {
	for i, id := range s.steps {
		if id == step {
			return i
		}
	}
	return -1
}
