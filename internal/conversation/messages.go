// ABOUTME: User-facing message texts and reusable outbound builders
// ABOUTME: Keeps every reply string in one place for consistent wording

package conversation

import (
	"fmt"
	"strings"
)

const (
	MsgAccessDenied       = "⛔ Access denied."
	MsgWelcome            = "👋 Hi! I draft LinkedIn posts with AI and publish them once you approve. Choose post to begin."
	MsgAskTopic           = "🧠 What topic should the LinkedIn post be about?"
	MsgTopicTooShort      = "That topic is too short. Describe it in at least %d characters."
	MsgGenerating         = "💡 Generating content using AI..."
	MsgStillWorking       = "⏳ Still working on the previous step. Send /cancel to abort."
	MsgGenerationFailed   = "❌ I couldn't generate a draft. Send /post to try again."
	MsgRegenerateFailed   = "❌ I couldn't generate a new draft, so I kept the previous one."
	MsgAskMedia           = "Do you want to add an image?"
	MsgSendMedia          = "📷 Send the image you want to attach."
	MsgInvalidMedia       = "⚠️ That isn't a supported image (JPEG, PNG or GIF). Send another one or skip."
	MsgUnexpectedMedia    = "I wasn't expecting an image right now."
	MsgPreviewHeader      = "📝 Preview:"
	MsgAskEdit            = "✏️ Send the new edited content:"
	MsgEditEmpty          = "The post can't be empty. Send the edited content:"
	MsgDraftEmpty         = "The draft is empty. Edit it before approving."
	MsgLoginRequired      = "🔐 You need to log in before I can publish. Login instructions are on their way."
	MsgLoginInProgress    = "🔐 Still waiting for you to finish logging in."
	MsgLoginSucceeded     = "✅ Logged in. Approve again to publish."
	MsgLoginTimeout       = "⌛ The login timed out. Approve again to retry."
	MsgLoginFailed        = "❌ Login failed. Approve again to retry."
	MsgPublishing         = "🚀 Publishing your post..."
	MsgPublished          = "✅ Post published successfully!"
	MsgPublishFailed      = "❌ Failed to post."
	MsgPublishAuthFailed  = "❌ Failed to post: the platform rejected the login. You'll be asked to log in again next time."
	MsgCancelled          = "❌ Cancelled."
	MsgNothingToCancel    = "Nothing to cancel."
	MsgInProgress         = "A post is already in progress. Send /cancel to start over."
	MsgIdleHint           = "Send /post to create a new post."
	MsgChooseOption       = "Please pick one of the options."
	MsgUnknownCommand     = "Unknown command. Send /help for the list."
	MsgLoggedOut          = "🔓 Logged out."
	MsgLogoutBusy         = "⏳ Your post is being published. Log out once it finishes."
	MsgNoHistory          = "No posts yet."
	MsgInterruptedDraft   = "⚠️ Your previous draft request was interrupted. Send /post to start again."
	MsgInterruptedPublish = "⚠️ The previous publish attempt was interrupted and may not have gone through. Check your profile before approving again."
	MsgInternalError      = "⚠️ Something went wrong on my side. Please try again."
)

const helpText = `Commands:
/post - start a new post
/cancel - abandon the current post
/status - show where we are
/history - show recent posts
/logout - forget the platform login
/help - show this message`

var previewChoices = []Choice{ChoiceApprove, ChoiceEdit, ChoiceRegenerate, ChoiceAttachMedia, ChoiceCancel}

func text(s string) Outbound {
	return Outbound{Text: s}
}

func welcome() Outbound {
	return Outbound{Text: MsgWelcome, Choices: []Choice{ChoicePost}}
}

func askMedia() Outbound {
	return Outbound{Text: MsgAskMedia, Choices: []Choice{ChoiceAttachMedia, ChoiceSkipMedia, ChoiceCancel}}
}

func askImage() Outbound {
	return Outbound{Text: MsgSendMedia, Choices: []Choice{ChoiceSkipMedia, ChoiceCancel}}
}

func preview(sess *Session) Outbound {
	return Outbound{
		Text:    MsgPreviewHeader + "\n\n" + sess.DraftText,
		Media:   sess.Media,
		Choices: previewChoices,
	}
}

func published(locator string) Outbound {
	if locator == "" {
		return text(MsgPublished)
	}
	return text(MsgPublished + "\n" + locator)
}

func publishFailed(detail string) Outbound {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return text(MsgPublishFailed)
	}
	return text(fmt.Sprintf("%s\n%s", MsgPublishFailed, truncate(detail, 300)))
}

// truncate shortens s to max runes, adding "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
