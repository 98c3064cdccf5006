package domain

// QueueType names the sub-queue a command is placed in.
type QueueType string

const (
	QueuePre     QueueType = "pre"
	QueueCurrent QueueType = "current"
	QueueRetry   QueueType = "retry"
	QueueError   QueueType = "error"
)

// QueueTypes lists the sub-queues in the order they are scanned.
var QueueTypes = []QueueType{QueuePre, QueueCurrent, QueueRetry, QueueError}

func ParseQueueType(s string) (QueueType, bool) {
	for _, t := range QueueTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}
