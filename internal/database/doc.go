/*
包 database 提供基于 GORM 的数据库连接建立与连接池管理，
是 SQL 事件存储的底座。

# 核心类型

  - Dialector/Open：按 postgres、mysql、sqlite 驱动名构造 GORM 方言并建立连接。
  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，PoolConfigFrom 从服务配置派生。
  - StatsReporter：健康检查时回调连接池快照，用于导出 Prometheus 指标。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，Close 后退出。
  - 事务管理：WithTransaction 单次事务，WithTransactionRetry 对死锁、
    序列化失败、连接中断等瞬时错误做指数退避重试。
*/
package database
