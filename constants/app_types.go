package constants

// AppType bmk构建的应用类型
type AppType string

const (
	AppTypeConsole AppType = "console"
	AppTypeGUI     AppType = "gui"
)

// MakeApplication bmk构建应用程序的子命令
const MakeApplication = "makeapp"
