package notify

// Notifier 定义邮件发送接口。
//
// 发送失败只影响邮件本身：调用方记录告警后继续主流程。
type Notifier interface {
	// Send 发送一封邮件。
	//
	// 参数:
	//   to: 接收邮箱
	//   subject: 主题
	//   body: HTML 正文
	Send(to, subject, body string) error
}
