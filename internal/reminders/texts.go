package reminders

import (
	"fmt"
	"time"
)

// Outbound message bodies. Kept together so copy changes never touch the
// transition logic.
const (
	textInitialPrompt = "It's time to take your medication! Reply T when you've taken it, S to skip, or tell me when to check back in (like '30 minutes')."
	textFollowup      = "Checking back in — have you had a chance to take your medication? Reply T or S."
	textAbsent        = "Just a nudge — your dose window is still open. Reply T when you've taken your medication."
	textWindowClosed  = "This dose window has closed, so I've marked it missed for today. No worries — we'll try again tomorrow!"
	textTakeConfirm   = "Got it, recorded at %s. Nice work!"
	textTakeExcited   = "Amazing, recorded at %s! Keep it up! 🎉"
	textSkipConfirm   = "Okay, skipping this dose. Recorded at %s."
	textRerecord      = "Looks like you've already recorded this dose today — you're all set!"
	textOutOfRange    = "There's no dose window open right now, but I've made a note of your message."
	textTooLate       = "That reminder would land after your dose window closes, so I can't set it. Your window is still open now though!"
	textDelayConfirm  = "Sure — I'll check back in at %s."
	textDelayClamped  = "Your window closes soon, so I'll check back in at %s instead."
	textWelcomeBack   = "Welcome back! Your dose window is open right now — reply T when you've taken your medication."
	textThanksReply   = "Anytime! I'm here to help. 💊"
	textWebsiteReply  = "You can see your full history at https://hellocoherence.com/dashboard."
	textMetricReply   = "Recorded your %s reading. Thanks for keeping me posted!"
	textErrorReply    = "Sorry about that — I've flagged this for a human to look at. Someone will follow up with you soon."
)

// clockFormat renders an instant as user-facing wall-clock text in the
// user's timezone.
func clockFormat(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}

func takeConfirmText(at time.Time, loc *time.Location, excited bool) string {
	if excited {
		return fmt.Sprintf(textTakeExcited, clockFormat(at, loc))
	}
	return fmt.Sprintf(textTakeConfirm, clockFormat(at, loc))
}

func delayConfirmText(at time.Time, loc *time.Location, wasClamped bool) string {
	if wasClamped {
		return fmt.Sprintf(textDelayClamped, clockFormat(at, loc))
	}
	return fmt.Sprintf(textDelayConfirm, clockFormat(at, loc))
}
