package engine

import (
	"context"

	"github.com/mpetrov/colloquy/pkg/activity"
	"github.com/mpetrov/colloquy/pkg/api"
)

// buildActivities binds the collaborator interfaces to named activity
// functions. Argument type mismatches are terminal: retrying a malformed
// call cannot succeed.
func buildActivities(deps api.Dependencies) *activity.Registry {
	reg := activity.NewRegistry()

	reg.MustRegister(api.ActivityGenerateWelcome, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.GenerateWelcomeArgs)
		if !ok {
			return nil, badArgs(api.ActivityGenerateWelcome, call.Args)
		}
		return deps.Questions.Welcome(ctx, args.Key)
	})

	reg.MustRegister(api.ActivitySendMessage, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.SendMessageArgs)
		if !ok {
			return nil, badArgs(api.ActivitySendMessage, call.Args)
		}
		return nil, deps.Messenger.Send(ctx, args.ChatID, args.Text)
	})

	reg.MustRegister(api.ActivityDetectLanguage, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.DetectLanguageArgs)
		if !ok {
			return nil, badArgs(api.ActivityDetectLanguage, call.Args)
		}
		return deps.Language.Detect(ctx, args.Text)
	})

	reg.MustRegister(api.ActivityPersistLanguage, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.PersistLanguageArgs)
		if !ok {
			return nil, badArgs(api.ActivityPersistLanguage, call.Args)
		}
		return nil, deps.Users.SetLanguage(ctx, call.Key, args.ChatID, args.Language)
	})

	reg.MustRegister(api.ActivityGenerateQuestion, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.NextQuestionArgs)
		if !ok {
			return nil, badArgs(api.ActivityGenerateQuestion, call.Args)
		}
		return deps.Questions.NextQuestion(ctx, args.Profile, args.Answers, args.Language)
	})

	reg.MustRegister(api.ActivityPersistAnswer, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.PersistAnswerArgs)
		if !ok {
			return nil, badArgs(api.ActivityPersistAnswer, call.Args)
		}
		return nil, deps.Users.SaveAnswer(ctx, call.Key, args.ChatID, args.QA)
	})

	reg.MustRegister(api.ActivityPersistEmail, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.PersistEmailArgs)
		if !ok {
			return nil, badArgs(api.ActivityPersistEmail, call.Args)
		}
		return nil, deps.Users.SaveEmail(ctx, call.Key, args.ChatID, args.Email)
	})

	reg.MustRegister(api.ActivityMarkComplete, func(ctx context.Context, call activity.Call) (any, error) {
		args, ok := call.Args.(api.MarkCompleteArgs)
		if !ok {
			return nil, badArgs(api.ActivityMarkComplete, call.Args)
		}
		return nil, deps.Users.MarkComplete(ctx, call.Key, args.ChatID)
	})

	return reg
}

func badArgs(name string, got any) error {
	return api.Terminalf("%s: unexpected argument type %T", name, got)
}
