package response

import "github.com/gin-gonic/gin"

// Success writes {"success": true, ...body}.
func Success(c *gin.Context, status int, body gin.H) {
	out := gin.H{"success": true}
	for k, v := range body {
		if k == "success" {
			continue
		}
		out[k] = v
	}
	c.JSON(status, out)
}

// Data writes {"success": true, "data": data}.
func Data(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// Fail writes {"success": false, "error": message}.
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func Abort(c *gin.Context, status int, message string) {
	Fail(c, status, message)
	c.Abort()
}
