/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

护栏服务用两个 Manager 分别承载 API 端口与 Prometheus metrics 端口，
Config.Name 区分两者的日志与错误信息。

  - Start 在后台 goroutine 中运行服务，Addr 返回实际绑定地址。
  - Shutdown 在配置的超时内完成请求排空，重复调用无副作用。
  - WaitForShutdown 监听 SIGINT/SIGTERM 或异步服务错误后触发关闭。
*/
package server
