package respond

import "github.com/gin-gonic/gin"

// JSON writes a JSON response with the given status. Kept as the single
// success-path choke point so response shaping stays in one place.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
