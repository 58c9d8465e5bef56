/*
包 incidentstore 把护栏事件持久化到进程外，作为 guardrails.Recorder 的 sink。

  - SQLStore：GORM 实现，支持 postgres、mysql、sqlite，表 guardrail_incidents 只插入不更新。
  - RedisStore：事件 JSON 以 SET NX 写入，时间线用 ZSET 索引。
  - RecorderReader：memory 模式下直接读取进程内 Recorder。
  - Instrument/WithWriteTimeout：为任意 Store 加上操作指标与写入超时。
*/
package incidentstore
