package api

// Phase represents the lifecycle state of a survey instance.
type Phase string

const (
	PhaseCreated             Phase = "CREATED"
	PhaseWelcomeGenerated    Phase = "WELCOME_GENERATED"
	PhaseAwaitingFirstAnswer Phase = "AWAITING_FIRST_ANSWER"
	PhaseLanguageDetecting   Phase = "LANGUAGE_DETECTING"
	PhaseAskingQuestion      Phase = "ASKING_QUESTION"
	PhaseQuestionSent        Phase = "QUESTION_SENT"
	PhaseAwaitingAnswer      Phase = "AWAITING_ANSWER"
	PhaseRecording           Phase = "RECORDING"

	// Terminal phases. PhaseFinished is the successful terminal state;
	// PhaseFailed and PhaseCancelled are terminal but distinct from it.
	PhaseFinished  Phase = "FINISHED"
	PhaseFailed    Phase = "FAILED"
	PhaseCancelled Phase = "CANCELLED"
)

// Terminal reports whether no further transitions can occur from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseFinished, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Slot identifies a signal slot on an instance's inbox.
type Slot string

const (
	SlotNone        Slot = ""
	SlotFirstAnswer Slot = "first-answer"
	SlotNextAnswer  Slot = "next-answer"
)
