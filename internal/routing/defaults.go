package routing

import "notifyroute/internal/types"

var (
	emailAndSMS = []types.Channel{types.ChannelEmail, types.ChannelSMS}
	smsAndEmail = []types.Channel{types.ChannelSMS, types.ChannelEmail}
	emailOnly   = []types.Channel{types.ChannelEmail}
)

// DefaultRules returns the built-in rule set, in insertion order.
func DefaultRules() []Rule {
	return []Rule{
		ForEventType("USER_REGISTERED", "User Registration Welcome", emailAndSMS,
			"Welcome {name}! Your account has been created successfully. Get started by exploring our features!",
			"Welcome to our platform, {name}!"),

		ForEventType("PAYMENT_COMPLETED", "Payment Confirmation", emailAndSMS,
			"Payment of ${amount} has been processed successfully. Transaction ID: {transactionId}",
			"Payment Confirmation - ${amount}"),

		ForEventType("ORDER_SHIPPED", "Order Shipped Notification", emailAndSMS,
			"Great news! Your order #{orderId} has been shipped and will arrive by {deliveryDate}. Track: {trackingUrl}",
			"Your order #{orderId} has shipped!"),

		ForHighPriority(smsAndEmail,
			"🚨 URGENT: {message} - Please take immediate action.",
			"🚨 Urgent Notification"),

		NewRule("Security Alert",
			func(e types.Event) bool { return e.EventType == "SECURITY_ALERT" },
			emailAndSMS,
			"🔒 Security Alert: {alertType} detected for your account at {timestamp}. If this wasn't you, please secure your account immediately.",
			"🔒 Security Alert - {alertType}",
			9),

		ForEventType("PASSWORD_RESET", "Password Reset Request", emailOnly,
			"You requested a password reset. Click here to reset: {resetUrl}. This link expires in 30 minutes.",
			"Password Reset Request"),

		ForEventType("ACCOUNT_VERIFICATION", "Account Verification", emailAndSMS,
			"Please verify your account using this code: {verificationCode}. Code expires in 10 minutes.",
			"Account Verification Required"),

		ForPriority(types.PriorityLow, "Low Priority Updates", emailOnly,
			"{message}",
			"Update: {subject}",
			1),
	}
}
