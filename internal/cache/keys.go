package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(tenantID, jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:%s", tenantID, jobID)
}

// RateLimitKey scopes a rate limit window to one user of one tenant.
func RateLimitKey(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, userID)
}
