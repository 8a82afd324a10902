package cache

import "fmt"

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("job:%d", jobID)
}

func RateLimitKey(caller string) string {
	return fmt.Sprintf("ratelimit:%s", caller)
}

func TaggingStatsKey(paperID string) string {
	return fmt.Sprintf("tagging:stats:%s", paperID)
}
